package ledger

import "github.com/01moynul/kidwallet-golang/internal/models"

// Withdrawal rules.
const (
	MinWithdrawalBalance = 1550
	MinWithdrawalAmount  = 1550

	// MinVerifiedFriends is the one friend threshold used both when showing
	// eligibility and when accepting a request: more than ten verified friends.
	MinVerifiedFriends = 11
)

// MaxLevel is the top of the level table.
const MaxLevel = 5

type threshold struct {
	atLeast int
	value   int
}

// Both tables are scanned top-down; the first threshold met wins.
var rateTable = []threshold{
	{100, 150},
	{51, 130},
	{31, 110},
	{21, 100},
}

const baseRate = 90

var levelTable = []threshold{
	{100, 5},
	{50, 4},
	{30, 3},
	{10, 2},
}

// levelFloor is the verified-friend count at which each level starts.
var levelFloor = map[int]int{1: 0, 2: 10, 3: 30, 4: 50, 5: 100}

// Rate is the reward in rupees for a friend verification that brings the
// owner to verifiedFriends verified friends.
func Rate(verifiedFriends int) int {
	for _, t := range rateTable {
		if verifiedFriends >= t.atLeast {
			return t.value
		}
	}
	return baseRate
}

// Level is the level earned at verifiedFriends. Levels never go down, so a
// current level above the table result is kept.
func Level(current, verifiedFriends int) int {
	for _, t := range levelTable {
		if verifiedFriends >= t.atLeast {
			return max(current, t.value)
		}
	}
	return current
}

// Eligibility reports whether a user may request a withdrawal.
type Eligibility struct {
	Eligible           bool `json:"eligible"`
	Balance            int  `json:"balance"`
	VerifiedFriends    int  `json:"verifiedFriends"`
	MinBalance         int  `json:"minBalance"`
	MinVerifiedFriends int  `json:"minVerifiedFriends"`
	MinAmount          int  `json:"minAmount"`
	MaxAmount          int  `json:"maxAmount"`
}

func CheckEligibility(u models.User) Eligibility {
	return Eligibility{
		Eligible:           u.Balance >= MinWithdrawalBalance && u.VerifiedFriends >= MinVerifiedFriends,
		Balance:            u.Balance,
		VerifiedFriends:    u.VerifiedFriends,
		MinBalance:         MinWithdrawalBalance,
		MinVerifiedFriends: MinVerifiedFriends,
		MinAmount:          MinWithdrawalAmount,
		MaxAmount:          u.Balance,
	}
}

// LevelProgress describes how far a user is from the next level.
type LevelProgress struct {
	CurrentLevel     int     `json:"currentLevel"`
	NextLevel        int     `json:"nextLevel"`
	Progress         int     `json:"progress"`
	TotalNeeded      int     `json:"totalNeeded"`
	Percentage       float64 `json:"percentage"`
	CurrentFriends   int     `json:"currentFriends"`
	NextLevelFriends int     `json:"nextLevelFriends"`
}

func Progress(u models.User) LevelProgress {
	current := min(max(u.Level, 1), MaxLevel)
	next := min(current+1, MaxLevel)

	p := LevelProgress{
		CurrentLevel:     current,
		NextLevel:        next,
		Progress:         max(0, u.VerifiedFriends-levelFloor[current]),
		TotalNeeded:      levelFloor[next] - levelFloor[current],
		CurrentFriends:   u.VerifiedFriends,
		NextLevelFriends: levelFloor[next],
	}
	if p.TotalNeeded <= 0 {
		p.Percentage = 100
		return p
	}
	// Progress is clamped, so a level ahead of its floor reads as 0%.
	p.Percentage = min(100, float64(p.Progress)/float64(p.TotalNeeded)*100)
	return p
}
