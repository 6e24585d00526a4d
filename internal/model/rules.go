package model

import (
	"crypto/rand"
	"math/big"
	"sort"
)

func (s RoomStatus) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusPlaying:
		return 1
	case StatusFinished:
		return 2
	default:
		return -1
	}
}

func (s RoomStatus) Valid() bool {
	return s.rank() >= 0
}

// Joinable reports whether a room in this status can be found by code.
func (s RoomStatus) Joinable() bool {
	return s == StatusWaiting || s == StatusPlaying
}

// CanTransition reports whether status may move from one value to the next.
// Staying in place is allowed; moving backwards is not.
func CanTransition(from, to RoomStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	return to.rank() >= from.rank()
}

// Advances reports whether moving to next changes the status forward.
func Advances(current, next RoomStatus) bool {
	if !next.Valid() {
		return false
	}
	return next.rank() > current.rank()
}

// NextSeat returns the smallest non-negative seat index not in taken.
func NextSeat(taken []int) int {
	used := make(map[int]struct{}, len(taken))
	for _, seat := range taken {
		used[seat] = struct{}{}
	}
	seat := 0
	for {
		if _, ok := used[seat]; !ok {
			return seat
		}
		seat++
	}
}

// SortBySeat orders players by seat index in place.
func SortBySeat(players []RoomPlayer) {
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].SeatIndex < players[j].SeatIndex
	})
}

// SortedByScore returns a copy of players ordered by score, highest first.
// Ties keep seat order.
func SortedByScore(players []RoomPlayer) []RoomPlayer {
	sorted := make([]RoomPlayer, len(players))
	copy(sorted, players)
	SortBySeat(sorted)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CurrentScore > sorted[j].CurrentScore
	})
	return sorted
}

// Settle builds one Match per player. The first player of the score
// ordering is the winner.
func Settle(roomID string, players []RoomPlayer) []Match {
	sorted := SortedByScore(players)
	winner := ""
	if len(sorted) > 0 {
		winner = sorted[0].PlayerID
	}
	matches := make([]Match, 0, len(players))
	for _, player := range players {
		matches = append(matches, Match{
			RoomID:     roomID,
			PlayerID:   player.PlayerID,
			FinalScore: player.CurrentScore,
			IsWinner:   player.PlayerID == winner,
		})
	}
	return matches
}

func ActiveCount(players []RoomPlayer) int {
	count := 0
	for _, player := range players {
		if player.IsActive {
			count++
		}
	}
	return count
}

// NewRoomCode returns a 4-digit code drawn uniformly from [1000, 9999].
func NewRoomCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "1000"
	}
	return big.NewInt(0).Add(n, big.NewInt(1000)).String()
}

func ValidRoomCode(code string) bool {
	if len(code) != 4 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return code[0] != '0'
}
