package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/user/grimoire/config"
	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/interfaces"
	"github.com/user/grimoire/internal/transition"
)

// ClientManager runs the narrator bot: it delivers private messages to
// players and answers the narrator's slash commands
type ClientManager struct {
	clients     map[string]*ClientInfo
	gameManager interfaces.GameManager
	formatter   *MessageFormatter
	config      config.Config
	logger      *zap.Logger
	mutex       sync.RWMutex
}

// ClientInfo holds information about a WhatsApp client connection
type ClientInfo struct {
	UUID        string
	PhoneNumber string
	Client      *whatsmeow.Client
	Store       *store.Device
}

// Ensure ClientManager can deliver the game's private messages
var _ interfaces.MessageSender = (*ClientManager)(nil)

// NewClientManager creates the bot without touching the device store.
// Call RestoreSessions to reconnect previously linked devices.
func NewClientManager(gameManager interfaces.GameManager, cfg config.Config, logger *zap.Logger) *ClientManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientManager{
		clients:     make(map[string]*ClientInfo),
		gameManager: gameManager,
		formatter:   NewMessageFormatter(),
		config:      cfg,
		logger:      logger,
	}
}

// openDevice opens the device database of one session. A fresh device is
// created when the database holds none.
func (cm *ClientManager) openDevice(phoneNumber, sessionID string, fresh bool) (*ClientInfo, error) {
	if err := os.MkdirAll(cm.config.WhatsApp.StoreDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dbPath := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(cm.config.WhatsApp.StoreDir, storeFile(phoneNumber, sessionID)))
	container, err := sqlstore.New("sqlite3", dbPath, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var deviceStore *store.Device
	if !fresh {
		deviceStore, err = container.GetFirstDevice()
	}
	if fresh || err != nil {
		deviceStore = container.NewDevice()
	}

	store.DeviceProps.RequireFullSync = proto.Bool(false)
	store.DeviceProps.Os = proto.String(cm.config.WhatsApp.ClientName)

	client := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	client.AddEventHandler(cm.handleWhatsAppEvent)

	return &ClientInfo{
		UUID:        sessionID,
		PhoneNumber: phoneNumber,
		Client:      client,
		Store:       deviceStore,
	}, nil
}

// RestoreSessions reconnects the newest linked device of every phone number
// and deletes the older session files
func (cm *ClientManager) RestoreSessions() {
	if err := os.MkdirAll(cm.config.WhatsApp.StoreDir, 0755); err != nil {
		cm.logger.Error("Failed to create store directory", zap.Error(err))
		return
	}

	files, err := filepath.Glob(filepath.Join(cm.config.WhatsApp.StoreDir, "store_*.db"))
	if err != nil {
		cm.logger.Error("Failed to scan for existing sessions", zap.Error(err))
		return
	}

	type session struct {
		file      string
		sessionID string
		modTime   time.Time
	}
	latest := make(map[string]session)
	for _, file := range files {
		phoneNumber, sessionID, ok := parseStoreFile(filepath.Base(file))
		if !ok {
			continue
		}
		info, err := os.Stat(file)
		if err != nil {
			cm.logger.Error("Failed to get file info", zap.String("file", file), zap.Error(err))
			continue
		}
		if current, exists := latest[phoneNumber]; !exists || info.ModTime().After(current.modTime) {
			latest[phoneNumber] = session{file: file, sessionID: sessionID, modTime: info.ModTime()}
		}
	}

	for _, file := range files {
		phoneNumber, _, ok := parseStoreFile(filepath.Base(file))
		if !ok || latest[phoneNumber].file == file {
			continue
		}
		if err := os.Remove(file); err != nil {
			cm.logger.Error("Failed to remove old session file", zap.String("file", file), zap.Error(err))
		} else {
			cm.logger.Info("Removed old session file", zap.String("file", file))
		}
	}

	for phoneNumber, s := range latest {
		info, err := cm.openDevice(phoneNumber, s.sessionID, false)
		if err != nil {
			cm.logger.Error("Failed to open session", zap.String("phone_number", phoneNumber), zap.Error(err))
			continue
		}
		if info.Store.ID == nil {
			cm.logger.Info("Session requires QR code login", zap.String("phone_number", phoneNumber))
			continue
		}

		cm.mutex.Lock()
		cm.clients[phoneNumber] = info
		cm.mutex.Unlock()

		go func(phone string, cli *whatsmeow.Client) {
			if err := cli.Connect(); err != nil {
				cm.logger.Error("Failed to connect restored client", zap.String("phone_number", phone), zap.Error(err))
				return
			}
			cm.logger.Info("Restored client connected", zap.String("phone_number", phone))
		}(phoneNumber, info.Client)
	}
}

// SetupClient opens (or creates) the device of a session and registers it
func (cm *ClientManager) SetupClient(sessionID, phoneNumber string) (*whatsmeow.Client, error) {
	info, err := cm.openDevice(phoneNumber, sessionID, false)
	if err != nil {
		return nil, err
	}

	cm.mutex.Lock()
	cm.clients[phoneNumber] = info
	cm.mutex.Unlock()

	return info.Client, nil
}

// GetClient retrieves a WhatsApp client by phone number, reconnecting it if
// the device is linked but offline
func (cm *ClientManager) GetClient(phoneNumber string) (*whatsmeow.Client, bool) {
	cm.mutex.RLock()
	clientInfo, exists := cm.clients[phoneNumber]
	cm.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	if !clientInfo.Client.IsConnected() && clientInfo.Store.ID != nil {
		if err := clientInfo.Client.Connect(); err != nil {
			cm.logger.Error("Failed to connect client", zap.String("phone_number", phoneNumber), zap.Error(err))
			return nil, false
		}
		cm.logger.Info("Reconnected client", zap.String("phone_number", phoneNumber))
	}

	return clientInfo.Client, true
}

// Disconnect closes a specific WhatsApp connection
func (cm *ClientManager) Disconnect(phoneNumber string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	clientInfo, exists := cm.clients[phoneNumber]
	if !exists {
		return fmt.Errorf("client not found for phone number: %s", phoneNumber)
	}

	clientInfo.Client.Disconnect()
	delete(cm.clients, phoneNumber)
	return nil
}

// DisconnectAll closes all WhatsApp connections
func (cm *ClientManager) DisconnectAll() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for phoneNumber, clientInfo := range cm.clients {
		if clientInfo.Client != nil {
			clientInfo.Client.Disconnect()
			cm.logger.Info("Disconnected client", zap.String("phone_number", phoneNumber))
		}
	}

	cm.clients = make(map[string]*ClientInfo)
}

// botClient is the device the bot speaks through: the narrator's phone when
// it is linked, otherwise any linked device
func (cm *ClientManager) botClient() (*whatsmeow.Client, bool) {
	if narrator := cm.config.WhatsApp.NarratorPhone; narrator != "" {
		if client, ok := cm.GetClient(narrator); ok {
			return client, true
		}
	}

	cm.mutex.RLock()
	var phoneNumber string
	for phone := range cm.clients {
		phoneNumber = phone
		break
	}
	cm.mutex.RUnlock()

	if phoneNumber == "" {
		return nil, false
	}
	return cm.GetClient(phoneNumber)
}

// SendMessage delivers a private text to a player's phone
func (cm *ClientManager) SendMessage(recipient, message string) (string, error) {
	client, ok := cm.botClient()
	if !ok {
		return "", fmt.Errorf("no WhatsApp device linked")
	}

	recipientJID, err := parseJID(recipient)
	if err != nil {
		return "", err
	}
	return sendText(client, recipientJID, message)
}

func sendText(client *whatsmeow.Client, to waTypes.JID, message string) (string, error) {
	msg := &waProto.Message{
		Conversation: proto.String(message),
	}

	response, err := client.SendMessage(context.Background(), to, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return response.ID, nil
}

// handleWhatsAppEvent processes incoming WhatsApp events
func (cm *ClientManager) handleWhatsAppEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		cm.handleIncomingMessage(v)
	case *events.Connected:
		cm.logger.Info("WhatsApp client connected")
	case *events.Disconnected:
		cm.logger.Info("WhatsApp client disconnected")
	case *events.LoggedOut:
		cm.logger.Info("WhatsApp client logged out")
	}
}

// handleIncomingMessage answers slash commands sent in private chats
func (cm *ClientManager) handleIncomingMessage(message *events.Message) {
	if message.Info.MessageSource.IsFromMe || message.Info.Chat.Server == waTypes.GroupServer {
		return
	}

	content := message.Message.GetConversation()
	if content == "" {
		content = message.Message.GetExtendedTextMessage().GetText()
	}
	if !strings.HasPrefix(strings.TrimSpace(content), "/") {
		return
	}

	cm.logger.Debug("Received command",
		zap.String("content", content),
		zap.String("sender", message.Info.Sender.User))

	response := cm.processCommand(message.Info.Sender.User, content)
	if response == "" {
		return
	}

	client, ok := cm.botClient()
	if !ok {
		cm.logger.Error("No client available to send response")
		return
	}
	if _, err := sendText(client, message.Info.Chat, response); err != nil {
		cm.logger.Error("Failed to send response",
			zap.String("sender", message.Info.Sender.User),
			zap.Error(err))
	}
}

// isNarrator reports whether sender may run the game. With no narrator
// configured anyone may.
func (cm *ClientManager) isNarrator(sender string) bool {
	narrator := cm.config.WhatsApp.NarratorPhone
	return narrator == "" || narrator == sender
}

// processCommand handles one slash command and returns the reply
func (cm *ClientManager) processCommand(sender, command string) string {
	command = cleanCommand(command)
	if !strings.HasPrefix(command, "/") {
		return "Commands start with '/'. Send */help* for the list."
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(command, "/"), " ")
	arg = strings.TrimSpace(arg)

	if name == "help" {
		return cm.handleHelpCommand()
	}
	if !cm.isNarrator(sender) {
		return "Only the narrator can run the game. Send */help* for the list."
	}

	switch name {
	case "status":
		return cm.formatter.FormatStatus(cm.gameManager.State())
	case "queue":
		return cm.formatter.FormatQueue(cm.gameManager.NightQueue())
	case "next":
		return cm.handleNextCommand()
	case "night":
		return cm.reply(cm.gameManager.StartNight())
	case "day":
		return cm.reply(cm.gameManager.StartDay())
	case "reveal":
		return cm.handleRevealCommand()
	case "prompt":
		pending, _ := cm.gameManager.PendingPrompt()
		return cm.formatter.FormatPrompt(pending)
	case "answer":
		return cm.handleAnswerCommand(arg)
	case "cancel":
		if err := cm.gameManager.CancelPrompt(); err != nil {
			return failure(err)
		}
		return "Prompt cancelled. Nothing was applied."
	}

	return "Unknown command. Send */help* for the list."
}

func (cm *ClientManager) reply(outcome transition.Outcome, err error) string {
	if err != nil {
		return failure(err)
	}
	return cm.formatter.FormatOutcome(outcome)
}

func (cm *ClientManager) handleNextCommand() string {
	next, ok, err := cm.gameManager.NextActor()
	if err != nil {
		return failure(err)
	}
	if !ok {
		return "Everyone has acted. Send */day* when ready."
	}
	return "Next: " + cm.formatter.FormatTurn(next)
}

func (cm *ClientManager) handleRevealCommand() string {
	sent, err := cm.gameManager.SendRoleReveals()
	if err != nil && sent == 0 {
		return failure(err)
	}
	message := fmt.Sprintf("Sent %d role reveals.", sent)
	if err != nil {
		message += "\n" + failure(err)
	}
	return message
}

// handleAnswerCommand resolves the pending prompt with the numbered option
func (cm *ClientManager) handleAnswerCommand(arg string) string {
	pending, ok := cm.gameManager.PendingPrompt()
	if !ok {
		return "No prompt is waiting."
	}

	options := pending.Suspension.Prompt.Options
	index, err := strconv.Atoi(arg)
	if err != nil || index < 1 || index > len(options) {
		return fmt.Sprintf("Answer with a number from 1 to %d.", len(options))
	}

	return cm.reply(cm.gameManager.ResolvePrompt(effects.UserInput{Choice: options[index-1].ID}))
}

func (cm *ClientManager) handleHelpCommand() string {
	return "*GRIMOIRE* narrator commands\n\n" +
		"*/status* the table\n" +
		"*/night* start the night\n" +
		"*/queue* who wakes tonight\n" +
		"*/next* wake the next player\n" +
		"*/prompt* show the waiting question\n" +
		"*/answer [number]* answer it\n" +
		"*/cancel* drop it\n" +
		"*/day* start the day\n" +
		"*/reveal* send every player their role"
}

func failure(err error) string {
	return "⚠️ " + err.Error()
}

// cleanCommand normalizes a command string
func cleanCommand(command string) string {
	return strings.Join(strings.Fields(strings.ToLower(command)), " ")
}

// parseJID converts a string to a WhatsApp JID
func parseJID(jidString string) (waTypes.JID, error) {
	if !strings.ContainsRune(jidString, '@') {
		// Assume this is a phone number, add WhatsApp suffix
		jidString = jidString + "@" + waTypes.DefaultUserServer
	}

	return waTypes.ParseJID(jidString)
}
