package installment

import "time"

// Bucket is a debtor follow-up category.
type Bucket string

const (
	BucketNone         Bucket = "none"
	BucketDueToday     Bucket = "due_today"
	BucketDueSoon      Bucket = "due_soon"
	BucketOverdue1Day  Bucket = "overdue_1_day"
	BucketOverdue3Days Bucket = "overdue_3_days"
)

// DebtorBuckets lists the buckets shown on the follow-up screen, in display order.
var DebtorBuckets = []Bucket{BucketDueToday, BucketDueSoon, BucketOverdue1Day, BucketOverdue3Days}

const (
	DueSoonDays       = 2
	SevereOverdueDays = 3
)

// ParseBucket accepts both the bucket names and the URL slugs used by the API.
func ParseBucket(s string) (Bucket, bool) {
	switch s {
	case "due_today", "due-today":
		return BucketDueToday, true
	case "due_soon", "due-soon":
		return BucketDueSoon, true
	case "overdue_1_day", "overdue-1-day":
		return BucketOverdue1Day, true
	case "overdue_3_days", "overdue-3-days":
		return BucketOverdue3Days, true
	}
	return "", false
}

// Classification describes where a due date sits relative to today.
type Classification struct {
	Bucket       Bucket `json:"bucket"`
	DaysUntilDue int    `json:"daysUntilDue"`
	OverdueDays  int    `json:"overdueDays"`
	IsToday      bool   `json:"isToday"`
	IsDueSoon    bool   `json:"isDueSoon"`
}

// DaysBetween counts calendar days from a to b in loc. It is negative when b
// is before a and ignores the time of day on both sides.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// IsToday reports whether due falls on the same calendar day as now.
func IsToday(now, due time.Time, loc *time.Location) bool {
	return DaysBetween(now, due, loc) == 0
}

// IsDueSoon reports whether due is exactly DueSoonDays calendar days ahead.
func IsDueSoon(now, due time.Time, loc *time.Location) bool {
	return DaysBetween(now, due, loc) == DueSoonDays
}

// OverdueDays returns how many calendar days due is behind now, or 0.
func OverdueDays(now, due time.Time, loc *time.Location) int {
	if d := DaysBetween(due, now, loc); d > 0 {
		return d
	}
	return 0
}

// Classify buckets a next-payment date. Overdue by one or two days lands in
// BucketOverdue1Day, three or more in BucketOverdue3Days.
func Classify(now, due time.Time, loc *time.Location) Classification {
	until := DaysBetween(now, due, loc)
	c := Classification{DaysUntilDue: until}
	switch {
	case until == 0:
		c.Bucket = BucketDueToday
		c.IsToday = true
	case until == DueSoonDays:
		c.Bucket = BucketDueSoon
		c.IsDueSoon = true
	case until < 0:
		c.OverdueDays = -until
		if c.OverdueDays >= SevereOverdueDays {
			c.Bucket = BucketOverdue3Days
		} else {
			c.Bucket = BucketOverdue1Day
		}
	default:
		c.Bucket = BucketNone
	}
	return c
}
