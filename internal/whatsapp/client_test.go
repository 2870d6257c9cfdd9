package whatsapp

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/grimoire/config"
	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/pipeline"
	"github.com/user/grimoire/internal/scheduler"
	"github.com/user/grimoire/internal/transition"
	"github.com/user/grimoire/internal/types"
	"github.com/user/grimoire/internal/wincheck"
)

// Mock GameManager for testing
type MockGameManager struct {
	mock.Mock
}

func (m *MockGameManager) SeatPlayers(seats []types.Seat) ([]types.Player, error) {
	args := m.Called(seats)
	players, _ := args.Get(0).([]types.Player)
	return players, args.Error(1)
}

func (m *MockGameManager) StartNight() (transition.Outcome, error) {
	args := m.Called()
	return args.Get(0).(transition.Outcome), args.Error(1)
}

func (m *MockGameManager) StartDay() (transition.Outcome, error) {
	args := m.Called()
	return args.Get(0).(transition.Outcome), args.Error(1)
}

func (m *MockGameManager) NightQueue() *scheduler.Queue {
	args := m.Called()
	queue, _ := args.Get(0).(*scheduler.Queue)
	return queue
}

func (m *MockGameManager) NextActor() (scheduler.Turn, bool, error) {
	args := m.Called()
	return args.Get(0).(scheduler.Turn), args.Bool(1), args.Error(2)
}

func (m *MockGameManager) Commit(bundle types.Bundle) (transition.Outcome, error) {
	args := m.Called(bundle)
	return args.Get(0).(transition.Outcome), args.Error(1)
}

func (m *MockGameManager) ResolvePrompt(input effects.UserInput) (transition.Outcome, error) {
	args := m.Called(input)
	return args.Get(0).(transition.Outcome), args.Error(1)
}

func (m *MockGameManager) PendingPrompt() (*transition.Pending, bool) {
	args := m.Called()
	pending, _ := args.Get(0).(*transition.Pending)
	return pending, args.Bool(1)
}

func (m *MockGameManager) CancelPrompt() error {
	return m.Called().Error(0)
}

func (m *MockGameManager) Perceive(targetID, observerID string, ctx types.Context, overrides map[string]types.PerceptionPatch) (types.Perception, error) {
	args := m.Called(targetID, observerID, ctx, overrides)
	return args.Get(0).(types.Perception), args.Error(1)
}

func (m *MockGameManager) AmbiguousPlayers(playerIDs []string, ctx types.Context) ([]types.Player, error) {
	args := m.Called(playerIDs, ctx)
	players, _ := args.Get(0).([]types.Player)
	return players, args.Error(1)
}

func (m *MockGameManager) ApplyPerceptionOverrides(overrides map[string]types.PerceptionPatch) (*types.GameState, error) {
	args := m.Called(overrides)
	state, _ := args.Get(0).(*types.GameState)
	return state, args.Error(1)
}

func (m *MockGameManager) State() *types.GameState {
	return m.Called().Get(0).(*types.GameState)
}

func (m *MockGameManager) CanVote(playerID string) (bool, error) {
	args := m.Called(playerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGameManager) CanNominate(playerID string) (bool, error) {
	args := m.Called(playerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGameManager) SendMessage(playerID string, message string) error {
	return m.Called(playerID, message).Error(0)
}

func (m *MockGameManager) SendRoleReveals() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func newBot(gm *MockGameManager, narrator string) *ClientManager {
	cfg := config.DefaultConfig()
	cfg.WhatsApp.NarratorPhone = narrator
	return NewClientManager(gm, cfg, zap.NewNop())
}

func starpassPending() *transition.Pending {
	return &transition.Pending{
		Suspension: pipeline.Suspension{
			Prompt: effects.Prompt{
				Kind:    effects.PromptKindChoosePlayer,
				Title:   "Starpass",
				Message: "Choose the new demon",
				Options: []effects.PromptOption{
					{ID: "p1", Label: "Poisoner"},
					{ID: "p2", Label: "Spy"},
				},
			},
		},
	}
}

func TestProcessCommand(t *testing.T) {
	state := types.NewGameState(
		types.Player{ID: "a", Name: "Ana", RoleID: "imp"},
		types.Player{ID: "b", Name: "Bia", RoleID: "empath", Effects: []types.EffectInstance{
			{Type: types.EffectDead}, {Type: "ghost_vote_spent"},
		}},
	)
	state.Round = 2
	state.Phase = types.PhaseNight

	tests := []struct {
		name     string
		sender   string
		command  string
		setup    func(gm *MockGameManager)
		contains []string
	}{
		{
			name:     "help for anyone",
			sender:   "5599",
			command:  "/help",
			contains: []string{"/night", "/answer [number]"},
		},
		{
			name:     "players cannot run the game",
			sender:   "5599",
			command:  "/status",
			contains: []string{"Only the narrator"},
		},
		{
			name:     "missing slash",
			sender:   "5511",
			command:  "status",
			contains: []string{"Commands start with '/'"},
		},
		{
			name:     "unknown",
			sender:   "5511",
			command:  "/dance",
			contains: []string{"Unknown command"},
		},
		{
			name:    "status",
			sender:  "5511",
			command: "  /STATUS ",
			setup: func(gm *MockGameManager) {
				gm.On("State").Return(state)
			},
			contains: []string{"*Round 2* · night", "🟢 Ana (imp)", "💀 Bia (empath) [ghost_vote_spent]"},
		},
		{
			name:    "queue",
			sender:  "5511",
			command: "/queue",
			setup: func(gm *MockGameManager) {
				gm.On("NightQueue").Return(&scheduler.Queue{Round: 2, Position: 1, Turns: []scheduler.Turn{
					{PlayerName: "Pia", RoleID: "poisoner", Rank: 17},
					{PlayerName: "Ana", RoleID: "imp", Rank: 24},
					{PlayerName: "Pia", RoleID: "imp", EffectType: "pending_reveal", FollowUp: "learn_new_role", Rank: 25},
				}})
			},
			contains: []string{"*Night 2*", "▶ Ana (imp)", "Pia (pending_reveal: learn_new_role)"},
		},
		{
			name:    "next",
			sender:  "5511",
			command: "/next",
			setup: func(gm *MockGameManager) {
				gm.On("NextActor").Return(scheduler.Turn{PlayerName: "Ana", RoleID: "imp"}, true, nil)
			},
			contains: []string{"Next: Ana (imp)"},
		},
		{
			name:    "next when done",
			sender:  "5511",
			command: "/next",
			setup: func(gm *MockGameManager) {
				gm.On("NextActor").Return(scheduler.Turn{}, false, nil)
			},
			contains: []string{"Everyone has acted"},
		},
		{
			name:    "next without night",
			sender:  "5511",
			command: "/next",
			setup: func(gm *MockGameManager) {
				gm.On("NextActor").Return(scheduler.Turn{}, false, scheduler.ErrQueueEmpty)
			},
			contains: []string{"⚠️ night queue is empty"},
		},
		{
			name:    "night",
			sender:  "5511",
			command: "/night",
			setup: func(gm *MockGameManager) {
				next := state.Clone()
				next.History = append(next.History, types.HistoryEntry{Type: types.EntryNightStart, Message: "Night falls"})
				gm.On("StartNight").Return(transition.Outcome{State: next}, nil)
			},
			contains: []string{"Night falls"},
		},
		{
			name:    "day ending the game",
			sender:  "5511",
			command: "/day",
			setup: func(gm *MockGameManager) {
				next := state.Clone()
				next.History = append(next.History, types.HistoryEntry{Type: types.EntryDawn, Message: "Dawn breaks"})
				gm.On("StartDay").Return(transition.Outcome{
					State:  next,
					Result: &wincheck.Result{Winner: types.AlignmentGood, Reason: wincheck.ReasonDemonDead},
				}, nil)
			},
			contains: []string{"Dawn breaks", "The *good* team wins (demon_dead)"},
		},
		{
			name:    "reveal",
			sender:  "5511",
			command: "/reveal",
			setup: func(gm *MockGameManager) {
				gm.On("SendRoleReveals").Return(4, errors.New("reveal to x: offline"))
			},
			contains: []string{"Sent 4 role reveals.", "offline"},
		},
		{
			name:    "prompt",
			sender:  "5511",
			command: "/prompt",
			setup: func(gm *MockGameManager) {
				gm.On("PendingPrompt").Return(starpassPending(), true)
			},
			contains: []string{"*Starpass*", "1. Poisoner", "2. Spy", "/answer [number]"},
		},
		{
			name:    "no prompt",
			sender:  "5511",
			command: "/prompt",
			setup: func(gm *MockGameManager) {
				gm.On("PendingPrompt").Return(nil, false)
			},
			contains: []string{"No prompt is waiting."},
		},
		{
			name:    "answer out of range",
			sender:  "5511",
			command: "/answer 3",
			setup: func(gm *MockGameManager) {
				gm.On("PendingPrompt").Return(starpassPending(), true)
			},
			contains: []string{"from 1 to 2"},
		},
		{
			name:    "cancel",
			sender:  "5511",
			command: "/cancel",
			setup: func(gm *MockGameManager) {
				gm.On("CancelPrompt").Return(nil)
			},
			contains: []string{"Prompt cancelled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gm := new(MockGameManager)
			if tt.setup != nil {
				tt.setup(gm)
			}
			bot := newBot(gm, "5511")

			response := bot.processCommand(tt.sender, tt.command)
			for _, want := range tt.contains {
				assert.Contains(t, response, want)
			}
			gm.AssertExpectations(t)
		})
	}
}

func TestAnswerResolvesChosenOption(t *testing.T) {
	gm := new(MockGameManager)
	gm.On("PendingPrompt").Return(starpassPending(), true)
	state := types.NewGameState()
	state.History = append(state.History, types.HistoryEntry{Type: "starpass", Message: "The demon passed to Spy"})
	gm.On("ResolvePrompt", effects.UserInput{Choice: "p2"}).Return(transition.Outcome{State: state}, nil)

	bot := newBot(gm, "")
	response := bot.processCommand("anyone", "/answer 2")

	assert.Equal(t, "The demon passed to Spy", response)
	gm.AssertExpectations(t)
}

func TestAnswerThatAsksAgain(t *testing.T) {
	gm := new(MockGameManager)
	gm.On("PendingPrompt").Return(starpassPending(), true)
	gm.On("ResolvePrompt", effects.UserInput{Choice: "p1"}).Return(transition.Outcome{Pending: starpassPending()}, nil)

	bot := newBot(gm, "5511")
	response := bot.processCommand("5511", "/answer 1")

	assert.Contains(t, response, "*Starpass*")
	gm.AssertExpectations(t)
}

func TestCleanCommand(t *testing.T) {
	assert.Equal(t, "/answer 2", cleanCommand("  /Answer   2 "))
	assert.Equal(t, "", cleanCommand("   "))
}

func TestParseJID(t *testing.T) {
	jid, err := parseJID("5511999999999")
	require.NoError(t, err)
	assert.Equal(t, "5511999999999", jid.User)
	assert.Equal(t, "s.whatsapp.net", jid.Server)

	jid, err = parseJID("123456@g.us")
	require.NoError(t, err)
	assert.Equal(t, "g.us", jid.Server)
}

func TestParseStoreFile(t *testing.T) {
	phone, session, ok := parseStoreFile(storeFile("5511999999999", "0b9c4f4e-6f7e-4c1c-9a55-3c5b1d2a7e10"))
	require.True(t, ok)
	assert.Equal(t, "5511999999999", phone)
	assert.Equal(t, "0b9c4f4e-6f7e-4c1c-9a55-3c5b1d2a7e10", session)

	for _, name := range []string{"store_.db", "store_5511.db", "other_5511_x.db", "store_5511_x.json"} {
		_, _, ok := parseStoreFile(name)
		assert.False(t, ok, name)
	}
}

func TestSessionFiles(t *testing.T) {
	dir := t.TempDir()
	sm := NewSessionManager(dir, zap.NewNop())

	sessions, err := sm.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)

	info := SessionInfo{ID: "s1", PhoneNumber: "5511", JID: "5511@s.whatsapp.net"}
	require.NoError(t, sm.SaveSession(info))
	infoPath := filepath.Join(dir, "sessions", "5511_s1.json")
	_, err = os.Stat(infoPath)
	require.NoError(t, err)

	dbPath := filepath.Join(dir, storeFile("5511", "s1"))
	require.NoError(t, os.WriteFile(dbPath, nil, 0644))

	require.NoError(t, sm.DeleteSession("5511", "s1"))
	_, err = os.Stat(infoPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err))

	// deleting twice is fine
	assert.NoError(t, sm.DeleteSession("5511", "s1"))
}

func TestSendMessageWithoutDevice(t *testing.T) {
	bot := newBot(new(MockGameManager), "5511")
	_, err := bot.SendMessage("5522", "hello")
	assert.Error(t, err)
}

func TestFormatQueueEdges(t *testing.T) {
	mf := NewMessageFormatter()
	assert.Equal(t, "No night in progress.", mf.FormatQueue(nil))
	assert.Equal(t, "Night 3: everyone has acted.", mf.FormatQueue(&scheduler.Queue{Round: 3}))
	assert.Equal(t, "No prompt is waiting.", mf.FormatPrompt(nil))
	assert.Equal(t, "Done.", mf.FormatOutcome(transition.Outcome{}))
}
