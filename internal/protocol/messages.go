// Package protocol defines the wire protocol between game clients and the
// server. Every frame is a JSON envelope carrying a numeric proto_id and the
// base64 encoding of the inner record's JSON, so the transport never needs to
// understand record contents.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Protocol IDs. The 1xxx range is client -> server, 2xxx is server -> client.
const (
	IDCGStartMatch   uint64 = 1001
	IDCGMatchGameOpt uint64 = 1002

	IDGCStartMatch uint64 = 2001
	IDGCStartGame  uint64 = 2002
	IDGCUpdateGame uint64 = 2003
	IDGCEndGame    uint64 = 2004
)

// Opt results carried in CGMatchGameOpt.OptResult and the opt bitmap:
// 0 means the answer was correct, 1 means incorrect (or timed out).
const (
	OptCorrect   uint32 = 0
	OptIncorrect uint32 = 1
)

// Envelope is the outer frame shared by every message in both directions.
type Envelope struct {
	ProtoID      uint64 `json:"proto_id"`
	ProtoJSONStr string `json:"proto_json_str"` // base64 of the inner record's JSON
}

// ---------------------------------------------------------------------------
// Client -> Server records
// ---------------------------------------------------------------------------

// CGStartMatch asks the server to enter the player into the matchmaking pool.
type CGStartMatch struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Level       uint32  `json:"level"`
	EloScore    uint32  `json:"elo_score"`
	CorrectRate float64 `json:"correct_rate"` // historical accuracy, 0..100
}

// CGMatchGameOpt reports the player's answer for one question index.
type CGMatchGameOpt struct {
	ID        string `json:"id"`
	GameID    string `json:"game_id"`
	OptIndex  uint32 `json:"opt_index"`
	OptResult uint32 `json:"opt_result"` // 0 correct, 1 incorrect
}

// ---------------------------------------------------------------------------
// Server -> Client records
// ---------------------------------------------------------------------------

// GCStartMatch acknowledges a match request. Code 0 means the player entered
// the pool; -1 means the player is already matching or in a game.
type GCStartMatch struct {
	Code int32 `json:"code"`
}

// GCStartGame announces a created game to both endpoints. PoemDataStr is an
// embedded JSON array of the round's question records.
type GCStartGame struct {
	GameID      string `json:"game_id"`
	Player1ID   string `json:"player1_id"`
	Player1Name string `json:"player1_name"`
	Player2ID   string `json:"player2_id"`
	Player2Name string `json:"player2_name"`
	PoemDataStr string `json:"poem_data_str"`
}

// GCUpdateGame carries the per-player round progress after any state change.
type GCUpdateGame struct {
	GameID string `json:"game_id"`

	Player1ID           string `json:"player1_id"`
	Player1Name         string `json:"player1_name"`
	Player1NextOptIndex uint32 `json:"player1_next_opt_index"`
	Player1OptBitmap    uint32 `json:"player1_opt_bitmap"`

	Player2ID           string `json:"player2_id"`
	Player2Name         string `json:"player2_name"`
	Player2NextOptIndex uint32 `json:"player2_next_opt_index"`
	Player2OptBitmap    uint32 `json:"player2_opt_bitmap"`
}

// GCEndGame carries the final result of a finished game including the
// post-game Elo and level for both players.
type GCEndGame struct {
	GameID string `json:"game_id"`

	Player1ID          string `json:"player1_id"`
	Player1Name        string `json:"player1_name"`
	Player1OptBitmap   uint32 `json:"player1_opt_bitmap"`
	Player1GameScore   uint32 `json:"player1_game_score"`
	Player1NewEloScore uint32 `json:"player1_new_elo_score"`
	Player1NewLevel    uint32 `json:"player1_new_level"`

	Player2ID          string `json:"player2_id"`
	Player2Name        string `json:"player2_name"`
	Player2OptBitmap   uint32 `json:"player2_opt_bitmap"`
	Player2GameScore   uint32 `json:"player2_game_score"`
	Player2NewEloScore uint32 `json:"player2_new_elo_score"`
	Player2NewLevel    uint32 `json:"player2_new_level"`
}

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

// Encode marshals a record, base64-encodes it, and wraps it in the envelope.
// The result is the exact payload written to the transport.
func Encode(protoID uint64, record interface{}) (string, error) {
	inner, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("protocol: marshal record for proto %d: %w", protoID, err)
	}

	env := Envelope{
		ProtoID:      protoID,
		ProtoJSONStr: base64.StdEncoding.EncodeToString(inner),
	}
	out, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("protocol: marshal envelope for proto %d: %w", protoID, err)
	}
	return string(out), nil
}

// DecodeClient parses an inbound frame into its proto ID and typed record.
// Unknown or server-only proto IDs are an error: the caller logs and drops
// the frame, it never terminates the loop.
func DecodeClient(payload []byte) (uint64, interface{}, error) {
	env, inner, err := open(payload)
	if err != nil {
		return env.ProtoID, nil, err
	}

	switch env.ProtoID {
	case IDCGStartMatch:
		var rec CGStartMatch
		if err := json.Unmarshal(inner, &rec); err != nil {
			return env.ProtoID, nil, fmt.Errorf("protocol: decode CGStartMatch: %w", err)
		}
		return env.ProtoID, rec, nil
	case IDCGMatchGameOpt:
		var rec CGMatchGameOpt
		if err := json.Unmarshal(inner, &rec); err != nil {
			return env.ProtoID, nil, fmt.Errorf("protocol: decode CGMatchGameOpt: %w", err)
		}
		return env.ProtoID, rec, nil
	default:
		return env.ProtoID, nil, fmt.Errorf("protocol: unknown client proto id %d", env.ProtoID)
	}
}

// DecodeServer parses a server -> client frame. The server itself never
// consumes these; it exists for the load test client and round-trip tests.
func DecodeServer(payload []byte) (uint64, interface{}, error) {
	env, inner, err := open(payload)
	if err != nil {
		return env.ProtoID, nil, err
	}

	var rec interface{}
	switch env.ProtoID {
	case IDGCStartMatch:
		var m GCStartMatch
		err = json.Unmarshal(inner, &m)
		rec = m
	case IDGCStartGame:
		var m GCStartGame
		err = json.Unmarshal(inner, &m)
		rec = m
	case IDGCUpdateGame:
		var m GCUpdateGame
		err = json.Unmarshal(inner, &m)
		rec = m
	case IDGCEndGame:
		var m GCEndGame
		err = json.Unmarshal(inner, &m)
		rec = m
	default:
		return env.ProtoID, nil, fmt.Errorf("protocol: unknown server proto id %d", env.ProtoID)
	}
	if err != nil {
		return env.ProtoID, nil, fmt.Errorf("protocol: decode proto %d: %w", env.ProtoID, err)
	}
	return env.ProtoID, rec, nil
}

// open unwraps the envelope and base64 layer shared by both directions.
func open(payload []byte) (Envelope, []byte, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return env, nil, fmt.Errorf("protocol: malformed envelope: %w", err)
	}

	inner, err := base64.StdEncoding.DecodeString(env.ProtoJSONStr)
	if err != nil {
		return env, nil, fmt.Errorf("protocol: proto %d: bad base64 payload: %w", env.ProtoID, err)
	}
	return env, inner, nil
}
