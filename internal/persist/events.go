// Package persist is the out-of-band persistence path of the game server.
// The game loop enqueues typed events onto a buffered channel and a single
// background worker applies them: leaderboard and counter writes go to
// Redis, finished games are archived to PostgreSQL and announced on NATS.
// Every write is fire-and-forget; a dead store never stalls a tick.
package persist

// Event is one persistence request produced by the game loop.
type Event interface {
	kind() string
}

// PlayerProgress upserts one player's level into the leaderboard sorted set.
// The two PlayerProgress events of a single game are enqueued back to back
// and applied in order by the single worker.
type PlayerProgress struct {
	PlayerKey string // "<player_id>_<display_name>"
	Level     uint32
}

// GameCount sets the total-games counter key.
type GameCount struct {
	Count uint64
}

// ServerStatus sets the connection-count key.
type ServerStatus struct {
	Connections int
}

// GameResult archives one finished game and announces it to external
// consumers. It is emitted once per game, after the GameEnd signal.
type GameResult struct {
	GameID    string `json:"game_id"`
	Area      string `json:"area"`
	StartedAt int64  `json:"started_at"` // ms
	EndedAt   int64  `json:"ended_at"`   // ms

	Players [2]PlayerResult `json:"players"`
}

// PlayerResult is one side of a GameResult.
type PlayerResult struct {
	PlayerID  string `json:"player_id"`
	Name      string `json:"name"`
	IsBot     bool   `json:"is_bot"`
	Score     uint32 `json:"score"`
	OptBitmap uint32 `json:"opt_bitmap"`
	OldElo    uint32 `json:"old_elo"`
	NewElo    uint32 `json:"new_elo"`
	NewLevel  uint32 `json:"new_level"`
}

func (PlayerProgress) kind() string { return "player_progress" }
func (GameCount) kind() string      { return "game_count" }
func (ServerStatus) kind() string   { return "server_status" }
func (GameResult) kind() string     { return "game_result" }
