package model

import "time"

type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

const (
	GameControlEvent = "game_control"
	ActionStartGame  = "start_game"
	ActionEndGame    = "end_game"
)

const (
	TableProfiles    = "profiles"
	TableRooms       = "rooms"
	TableRoomPlayers = "room_players"
	TableRounds      = "rounds"
	TableMatches     = "matches"
)

type User struct {
	ID          string `json:"id"`
	IsAnonymous bool   `json:"is_anonymous"`
}

type Session struct {
	ID   string `json:"id"`
	User User   `json:"user"`
}

type Profile struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RoomSettings struct {
	InitialScore   int    `json:"initial_score"`
	BaseMultiplier int    `json:"base_multiplier"`
	ScoreCap       int    `json:"score_cap"`
	PaymentMode    string `json:"payment_mode"`
}

type Room struct {
	ID        string     `json:"id"`
	RoomCode  string     `json:"room_code"`
	HostID    string     `json:"host_id"`
	Status    RoomStatus `json:"status"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	RoomSettings
}

type RoomPlayer struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"room_id"`
	PlayerID     string    `json:"player_id"`
	SeatIndex    int       `json:"seat_index"`
	CurrentScore int       `json:"current_score"`
	IsActive     bool      `json:"is_active"`
	IsReady      bool      `json:"is_ready"`
	Nickname     string    `json:"nickname,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

type Round struct {
	ID          string         `json:"id"`
	RoomID      string         `json:"room_id"`
	RoundNumber int            `json:"round_number"`
	Scores      map[string]int `json:"scores"`
	RecordedBy  string         `json:"recorded_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Match struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	PlayerID   string    `json:"player_id"`
	FinalScore int       `json:"final_score"`
	IsWinner   bool      `json:"is_winner"`
	CreatedAt  time.Time `json:"created_at"`
}

// CurrentRoom is the value persisted under the durable "currentRoom" key.
type CurrentRoom struct {
	ID string `json:"id"`
}
