package badge

import (
	"fmt"
	"strings"
)

// Rank is a rung on the usage ladder. Higher ranks need more hours.
type Rank int

const (
	Initial Rank = iota
	Common
	Rare
	Experienced
	Advanced
	Pro
	Insane
	Lunatic
	TouchGrass
	Master
)

var rankNames = [...]string{
	Initial:     "Initial",
	Common:      "Common",
	Rare:        "Rare",
	Experienced: "Experienced",
	Advanced:    "Advanced",
	Pro:         "Pro",
	Insane:      "Insane",
	Lunatic:     "Lunatic",
	TouchGrass:  "TouchGrass",
	Master:      "Master",
}

func (r Rank) String() string {
	if r < 0 || int(r) >= len(rankNames) {
		return fmt.Sprintf("Rank(%d)", int(r))
	}
	return rankNames[r]
}

// MarshalText encodes the rank by name so the stats file stays readable.
func (r Rank) MarshalText() ([]byte, error) {
	if r < 0 || int(r) >= len(rankNames) {
		return nil, fmt.Errorf("unknown badge rank %d", int(r))
	}
	return []byte(rankNames[r]), nil
}

func (r *Rank) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	for i, n := range rankNames {
		if strings.EqualFold(n, s) {
			*r = Rank(i)
			return nil
		}
	}
	return fmt.Errorf("unknown badge rank %q", s)
}

// Badge is a milestone awarded to a tracked application.
type Badge struct {
	Rank        Rank   `json:"rank"`
	Username    string `json:"username"`
	Description string `json:"description"`
}

// Rung binds a rank to the whole-hour count that earns it.
type Rung struct {
	Hours       uint64
	Rank        Rank
	Description string
}

// Ladder lists every rung in ascending order of hours.
var Ladder = []Rung{
	{0, Initial, "App's just been added."},
	{1, Common, "You've been using app for an hour. Keep it up."},
	{2, Rare, "You've been using app for two hours. Not bad."},
	{10, Experienced, "You've been using app for ten hours. I think you're already into it."},
	{50, Advanced, "You've been using app for fifty hours. Point of no return."},
	{100, Pro, "You've been using app for one hundred hours. You're already hooked."},
	{500, Insane, "You've been using app for five hundred hours. You really like this, don't you?"},
	{1000, Lunatic, "You've been using app for one thousand hours. You know everything about this app."},
	{3000, TouchGrass, "You've been using app for three thousand hours. Can't believe I just said that."},
	{10000, Master, "You've been using app for ten thousand hours. You've mastered it all."},
}

// For returns the badge earned at elapsedSecs, if any.
//
// Elapsed seconds are truncated to whole hours and compared for exact
// equality with a rung. A rung is only hit while the hour count sits on it,
// so a caller that samples less often than once an hour can skip a rung.
func For(elapsedSecs uint64, username string) (Badge, bool) {
	hours := elapsedSecs / 3600
	for _, r := range Ladder {
		if r.Hours == hours {
			return Badge{Rank: r.Rank, Username: username, Description: r.Description}, true
		}
	}
	return Badge{}, false
}

// Contains reports whether badges already holds a badge of rank r.
func Contains(badges []Badge, r Rank) bool {
	for _, b := range badges {
		if b.Rank == r {
			return true
		}
	}
	return false
}
