package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"

	"github.com/user/grimoire/config"
	"github.com/user/grimoire/internal/scheduler"
	"github.com/user/grimoire/internal/transition"
	"github.com/user/grimoire/internal/types"
)

// QRCodeManager handles QR code generation and authentication
type QRCodeManager struct {
	clientManager *ClientManager
	config        config.Config
	logger        *zap.Logger
}

// NewQRCodeManager creates a new QR code manager
func NewQRCodeManager(clientManager *ClientManager, cfg config.Config, logger *zap.Logger) *QRCodeManager {
	return &QRCodeManager{
		clientManager: clientManager,
		config:        cfg,
		logger:        logger,
	}
}

// GenerateQRCode links the narrator's phone. It returns the pairing code and
// leaves a PNG of it under the store directory.
func (qm *QRCodeManager) GenerateQRCode(sessionID, phoneNumber string) (string, error) {
	client, exists := qm.clientManager.GetClient(phoneNumber)
	if !exists {
		var err error
		client, err = qm.clientManager.SetupClient(sessionID, phoneNumber)
		if err != nil {
			return "", fmt.Errorf("failed to set up client: %w", err)
		}
	}

	if client.IsLoggedIn() {
		return "", fmt.Errorf("client already logged in")
	}

	qrChan, err := client.GetQRChannel(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to get QR channel: %w", err)
	}
	if err := client.Connect(); err != nil {
		return "", fmt.Errorf("failed to connect: %w", err)
	}

	qrDir := filepath.Join(qm.config.WhatsApp.StoreDir, "qrcodes")
	if err := os.MkdirAll(qrDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create QR code directory: %w", err)
	}

	select {
	case evt := <-qrChan:
		if evt.Event != "code" {
			return "", fmt.Errorf("unexpected QR event: %s", evt.Event)
		}
		qrPath := filepath.Join(qrDir, fmt.Sprintf("%s_%s.png", phoneNumber, sessionID))
		if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 256, qrPath); err != nil {
			return "", fmt.Errorf("failed to generate QR code image: %w", err)
		}

		qm.logger.Info("QR code generated",
			zap.String("phone_number", phoneNumber),
			zap.String("session_id", sessionID),
			zap.String("path", qrPath))
		return evt.Code, nil
	case <-time.After(60 * time.Second):
		return "", fmt.Errorf("timeout waiting for QR code")
	}
}

// SessionManager lists and removes linked devices kept in the store directory
type SessionManager struct {
	storeDir string
	logger   *zap.Logger
}

// NewSessionManager creates a new session manager
func NewSessionManager(storeDir string, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		storeDir: storeDir,
		logger:   logger,
	}
}

// SessionInfo holds information about a WhatsApp session
type SessionInfo struct {
	ID          string    `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	JID         string    `json:"jid"`
	CreatedAt   time.Time `json:"created_at"`
}

// storeFile names the device database of one session
func storeFile(phoneNumber, sessionID string) string {
	return fmt.Sprintf("store_%s_%s.db", phoneNumber, sessionID)
}

// parseStoreFile splits store_<phone>_<session>.db. Session ids are uuids and
// never contain an underscore; phone numbers are digits only.
func parseStoreFile(name string) (phoneNumber, sessionID string, ok bool) {
	if !strings.HasPrefix(name, "store_") || !strings.HasSuffix(name, ".db") {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimSuffix(strings.TrimPrefix(name, "store_"), ".db"), "_", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// ListSessions returns every session with a linked device, oldest first
func (sm *SessionManager) ListSessions() ([]SessionInfo, error) {
	if err := os.MkdirAll(sm.storeDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	matches, err := filepath.Glob(filepath.Join(sm.storeDir, "store_*.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to list session files: %w", err)
	}

	sessions := make([]SessionInfo, 0, len(matches))
	for _, match := range matches {
		filename := filepath.Base(match)
		phoneNumber, sessionID, ok := parseStoreFile(filename)
		if !ok {
			sm.logger.Warn("Failed to parse session filename", zap.String("filename", filename))
			continue
		}

		info, err := os.Stat(match)
		if err != nil {
			sm.logger.Warn("Failed to stat session database", zap.String("path", match), zap.Error(err))
			continue
		}

		dbLog := waLog.Stdout("Database", "ERROR", true)
		container, err := sqlstore.New("sqlite3", "file:"+match+"?_foreign_keys=on", dbLog)
		if err != nil {
			sm.logger.Warn("Failed to open session database", zap.String("path", match), zap.Error(err))
			continue
		}
		deviceStore, err := container.GetFirstDevice()
		if err != nil || deviceStore.ID == nil {
			sm.logger.Warn("Session has no linked device", zap.String("path", match))
			continue
		}

		sessions = append(sessions, SessionInfo{
			ID:          sessionID,
			PhoneNumber: phoneNumber,
			JID:         deviceStore.ID.String(),
			CreatedAt:   info.ModTime(),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// SaveSession persists session information next to the device database
func (sm *SessionManager) SaveSession(session SessionInfo) error {
	sessionsDir := filepath.Join(sm.storeDir, "sessions")
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	path := filepath.Join(sessionsDir, fmt.Sprintf("%s_%s.json", session.PhoneNumber, session.ID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

// DeleteSession removes a WhatsApp session
func (sm *SessionManager) DeleteSession(phoneNumber, sessionID string) error {
	dbPath := filepath.Join(sm.storeDir, storeFile(phoneNumber, sessionID))
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session database: %w", err)
	}

	infoPath := filepath.Join(sm.storeDir, "sessions", fmt.Sprintf("%s_%s.json", phoneNumber, sessionID))
	if err := os.Remove(infoPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session info: %w", err)
	}
	return nil
}

// MessageFormatter renders game state as chat text for the narrator
type MessageFormatter struct{}

// NewMessageFormatter creates a new message formatter
func NewMessageFormatter() *MessageFormatter {
	return &MessageFormatter{}
}

// FormatStatus lists the table with who is alive and what they carry
func (mf *MessageFormatter) FormatStatus(state *types.GameState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Round %d* · %s\n", state.Round, state.Phase)
	if winner, over := state.Winner(); over {
		fmt.Fprintf(&b, "Game over: *%s* wins\n", winner)
	}
	b.WriteString("\n")

	for i := range state.Players {
		player := &state.Players[i]
		mark := "🟢"
		if !player.IsAlive() {
			mark = "💀"
		}
		fmt.Fprintf(&b, "%s %s (%s)", mark, player.Name, player.RoleID)
		var tags []string
		for _, effect := range player.Effects {
			if effect.Type != types.EffectDead {
				tags = append(tags, effect.Type)
			}
		}
		if len(tags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(tags, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatQueue lists the night actors still to go, the current one first
func (mf *MessageFormatter) FormatQueue(queue *scheduler.Queue) string {
	if queue == nil {
		return "No night in progress."
	}
	remaining := queue.Remaining()
	if len(remaining) == 0 {
		return fmt.Sprintf("Night %d: everyone has acted.", queue.Round)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Night %d*\n", queue.Round)
	for i, turn := range remaining {
		prefix := "  "
		if i == 0 {
			prefix = "▶ "
		}
		fmt.Fprintf(&b, "%s%s\n", prefix, mf.FormatTurn(turn))
	}
	return b.String()
}

// FormatTurn names an actor and why they wake
func (mf *MessageFormatter) FormatTurn(turn scheduler.Turn) string {
	if turn.FollowUp != "" {
		return fmt.Sprintf("%s (%s: %s)", turn.PlayerName, turn.EffectType, turn.FollowUp)
	}
	return fmt.Sprintf("%s (%s)", turn.PlayerName, turn.RoleID)
}

// FormatPrompt renders a parked prompt with numbered options
func (mf *MessageFormatter) FormatPrompt(pending *transition.Pending) string {
	if pending == nil {
		return "No prompt is waiting."
	}
	prompt := pending.Suspension.Prompt

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n%s\n", prompt.Title, prompt.Message)
	for i, option := range prompt.Options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, option.Label)
	}
	if len(prompt.Options) > 0 {
		b.WriteString("\nReply */answer [number]*")
	}
	return b.String()
}

// FormatOutcome summarizes a commit for the narrator
func (mf *MessageFormatter) FormatOutcome(outcome transition.Outcome) string {
	if outcome.Suspended() {
		return mf.FormatPrompt(outcome.Pending)
	}
	if outcome.State == nil {
		return "Done."
	}

	var b strings.Builder
	if len(outcome.State.History) > 0 {
		last := outcome.State.History[len(outcome.State.History)-1]
		b.WriteString(last.Message)
	} else {
		b.WriteString("Done.")
	}
	if outcome.Result != nil {
		fmt.Fprintf(&b, "\n🏁 The *%s* team wins (%s)", outcome.Result.Winner, outcome.Result.Reason)
	}
	return b.String()
}
