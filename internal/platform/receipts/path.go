package receipts

import (
	"fmt"
	"strings"
	"time"
)

// ObjectPath returns the archive key for an order receipt:
// <prefix>/<yyyy>/<mm>/<dd>/<orderID>/<code>.txt, dated by completion time in UTC.
func ObjectPath(prefix, orderID, code string, completedAt time.Time) (string, error) {
	id, err := validateSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(code)
	if name == "" {
		name = id
	}
	fileName, err := validateSegment("code", name)
	if err != nil {
		return "", err
	}
	day := completedAt.UTC().Format("2006/01/02")
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.txt", day, id, fileName), nil
	}
	return fmt.Sprintf("%s/%s/%s/%s.txt", prefix, day, id, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("receipts: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("receipts: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("receipts: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
