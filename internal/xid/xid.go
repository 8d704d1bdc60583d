package xid

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

func New() string {
	return uuid.NewString()
}

// Valid reports whether id parses as a UUID.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

var itemCodePattern = regexp.MustCompile(`^RT\d{4,}$`)

// ItemCode formats a counter value as RT0001, RT0002, ...
func ItemCode(seq int64) string {
	return fmt.Sprintf("RT%04d", seq)
}

func IsItemCode(code string) bool {
	return itemCodePattern.MatchString(code)
}

// BillNumber formats a counter value as INV-20240131-00042.
func BillNumber(at time.Time, seq int64) string {
	return "INV-" + at.Format("20060102") + "-" + fmt.Sprintf("%05d", seq)
}
