package domain

import (
	"fmt"
	"regexp"
	"time"
)

var bvidPattern = regexp.MustCompile(`^BV[0-9A-Za-z]{10}$`)

// ValidateBVID accepts the 12 character "BV..." form only.
func ValidateBVID(bvid string) error {
	if !bvidPattern.MatchString(bvid) {
		return fmt.Errorf("%w: %q", ErrInvalidBVID, bvid)
	}
	return nil
}

// Video is the metadata record for one BV id, as returned by the view API.
type Video struct {
	BVID        string    `json:"bvid"`
	CID         int64     `json:"cid"`
	Title       string    `json:"title"`
	Description string    `json:"desc"`
	Owner       string    `json:"owner"`
	Duration    int64     `json:"duration"`
	UpdatedAt   time.Time `json:"updated_at"`
}
