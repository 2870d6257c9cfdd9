package game

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/grimoire/config"
	"github.com/user/grimoire/internal/catalog"
	"github.com/user/grimoire/internal/effects"
	"github.com/user/grimoire/internal/interfaces"
	"github.com/user/grimoire/internal/metrics"
	"github.com/user/grimoire/internal/perception"
	"github.com/user/grimoire/internal/pipeline"
	"github.com/user/grimoire/internal/roles"
	"github.com/user/grimoire/internal/scheduler"
	"github.com/user/grimoire/internal/transition"
	"github.com/user/grimoire/internal/types"
	"github.com/user/grimoire/internal/wincheck"
)

var (
	// ErrPromptPending indicates a commit while the narrator still owes an answer
	ErrPromptPending = errors.New("a prompt is waiting for an answer")
	// ErrNoPendingPrompt indicates an answer with nothing to answer
	ErrNoPendingPrompt = errors.New("no prompt is pending")
	// ErrAlreadySeated indicates seating after the game started
	ErrAlreadySeated = errors.New("players can only be seated during setup")
	// ErrNotEnoughPlayers indicates a table below the configured minimum
	ErrNotEnoughPlayers = errors.New("not enough players")
	// ErrNotSeated indicates a phase change before anyone sat down
	ErrNotSeated = errors.New("no players seated")
	// ErrNoMessageSender indicates a message with no delivery channel configured
	ErrNoMessageSender = errors.New("message sender not set")
)

// GameManager owns the one game state and serializes every change to it
type GameManager struct {
	state         *types.GameState
	queue         *scheduler.Queue
	pending       *transition.Pending
	stateLock     sync.RWMutex
	storage       *GameStateStorage
	config        config.Config
	Logger        *zap.Logger
	rules         *catalog.Rules
	perception    *perception.Engine
	applier       *transition.Applier
	metrics       *metrics.Metrics
	messageSender interfaces.MessageSender
}

// Ensure GameManager satifies the interfaces.GameManager interface
var _ interfaces.GameManager = (*GameManager)(nil)

// NewGameManager creates a game manager over the given rules and picks up
// the session saved at cfg.Game.StatePath if there is one
func NewGameManager(cfg config.Config, rules *catalog.Rules, logger *zap.Logger, m *metrics.Metrics) *GameManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	gm := &GameManager{
		storage:    NewGameStateStorage(cfg.Game.StatePath),
		config:     cfg,
		rules:      rules,
		perception: perception.NewEngine(rules.Effects, rules.Roles),
		metrics:    m,
	}
	gm.SetLogger(logger)

	session, err := gm.storage.LoadSession()
	if err == nil {
		err = gm.checkSession(session)
	}
	if err != nil {
		// If there's an error loading, start over in setup
		gm.Logger.Warn("Discarding saved session", zap.Error(err))
		session = Session{State: types.NewGameState()}
	}
	gm.state = session.State
	gm.queue = session.Queue
	gm.pending = session.Pending

	return gm
}

// SetLogger replaces the logger used by the manager and the engine under it
func (gm *GameManager) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gm.Logger = logger
	win := wincheck.New(gm.rules.Roles, gm.rules.Effects, types.Alignment(gm.config.Game.WinTieBreak), logger)
	gm.applier = transition.New(gm.rules.Effects, gm.rules.Roles, pipeline.New(gm.rules.Effects, logger), win, logger)
}

// checkSession rejects a saved session written against a different catalog
func (gm *GameManager) checkSession(session Session) error {
	for _, player := range session.State.Players {
		if _, ok := gm.rules.Roles.Role(player.RoleID); !ok {
			return fmt.Errorf("%w: %s", roles.ErrUnknownRole, player.RoleID)
		}
		if err := gm.rules.Effects.Validate(player.Effects...); err != nil {
			return err
		}
	}
	return nil
}

// saveState persists the current session
func (gm *GameManager) saveState() error {
	return gm.storage.SaveSession(Session{State: gm.state, Queue: gm.queue, Pending: gm.pending})
}

// SeatPlayers replaces the table with the given seats. Each player gets a
// fresh id and the initial effects of their role.
func (gm *GameManager) SeatPlayers(seats []types.Seat) ([]types.Player, error) {
	gm.stateLock.Lock()
	defer gm.stateLock.Unlock()

	if gm.state.Phase != types.PhaseSetup {
		return nil, ErrAlreadySeated
	}
	if len(seats) < gm.config.Game.MinPlayers {
		return nil, fmt.Errorf("%w: %d seated, %d needed", ErrNotEnoughPlayers, len(seats), gm.config.Game.MinPlayers)
	}

	players := make([]types.Player, 0, len(seats))
	for _, seat := range seats {
		role, ok := gm.rules.Roles.Role(seat.RoleID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", roles.ErrUnknownRole, seat.RoleID)
		}
		player := types.Player{
			ID:      uuid.New().String(),
			Name:    seat.Name,
			Contact: seat.Contact,
			RoleID:  role.ID,
			Effects: make([]types.EffectInstance, 0, len(role.InitialEffects)),
		}
		for _, effect := range role.InitialEffects {
			effect = effect.Clone()
			if effect.ExpiresAt == "" {
				effect.ExpiresAt = types.ExpiresNever
			}
			player.Effects = append(player.Effects, effect)
		}
		players = append(players, player)
	}

	gm.state = types.NewGameState(players...)
	gm.queue = nil
	gm.pending = nil

	if err := gm.saveState(); err != nil {
		return nil, fmt.Errorf("failed to save game state: %w", err)
	}

	gm.Logger.Info("Players seated", zap.Int("players", len(players)))
	return gm.state.Clone().Players, nil
}

// StartNight moves the game into the next night and builds its queue
func (gm *GameManager) StartNight() (transition.Outcome, error) {
	return gm.beginPhase(types.PhaseNight, types.EntryNightStart, "Night falls")
}

// StartDay moves the game into day. The night queue is discarded.
func (gm *GameManager) StartDay() (transition.Outcome, error) {
	return gm.beginPhase(types.PhaseDay, types.EntryDawn, "Dawn breaks")
}

func (gm *GameManager) beginPhase(phase types.Phase, entryType, message string) (transition.Outcome, error) {
	gm.stateLock.Lock()
	defer gm.stateLock.Unlock()

	if len(gm.state.Players) == 0 {
		return transition.Outcome{}, ErrNotSeated
	}
	return gm.commit(types.Bundle{
		BeginPhase: phase,
		Changes: types.Changes{
			Entries: []types.HistoryEntry{{Type: entryType, Message: message}},
		},
	})
}

// Commit hands a finished action flow to the applier. A bundle whose intent
// needs narrator input is parked and nothing is applied until ResolvePrompt.
func (gm *GameManager) Commit(bundle types.Bundle) (transition.Outcome, error) {
	gm.stateLock.Lock()
	defer gm.stateLock.Unlock()

	return gm.commit(bundle)
}

func (gm *GameManager) commit(bundle types.Bundle) (transition.Outcome, error) {
	if gm.pending != nil {
		gm.metrics.IncCommits(metrics.CommitRejected)
		return transition.Outcome{}, ErrPromptPending
	}

	outcome, err := gm.applier.Commit(bundle, gm.state)
	if err != nil {
		gm.metrics.IncCommits(metrics.CommitRejected)
		return transition.Outcome{}, err
	}
	return outcome, gm.settle(bundle, outcome)
}

// ResolvePrompt answers the pending prompt. The handler may ask again, in
// which case the new prompt replaces the old one.
func (gm *GameManager) ResolvePrompt(input effects.UserInput) (transition.Outcome, error) {
	gm.stateLock.Lock()
	defer gm.stateLock.Unlock()

	if gm.pending == nil {
		return transition.Outcome{}, ErrNoPendingPrompt
	}

	pending := *gm.pending
	outcome, err := gm.applier.Resume(pending, input, gm.state)
	if err != nil {
		gm.metrics.IncCommits(metrics.CommitRejected)
		return transition.Outcome{}, err
	}
	gm.pending = nil
	return outcome, gm.settle(pending.Bundle, outcome)
}

// CancelPrompt drops the pending prompt along with the bundle waiting on it
func (gm *GameManager) CancelPrompt() error {
	gm.stateLock.Lock()
	defer gm.stateLock.Unlock()

	if gm.pending == nil {
		return ErrNoPendingPrompt
	}
	gm.Logger.Info("Prompt cancelled", zap.String("continuation_id", gm.pending.Suspension.Continuation.ID))
	gm.pending = nil

	if err := gm.saveState(); err != nil {
		return fmt.Errorf("failed to save game state: %w", err)
	}
	return nil
}

// settle records a commit outcome: the new state, the queue and the metrics
func (gm *GameManager) settle(bundle types.Bundle, outcome transition.Outcome) error {
	if outcome.Resolution != nil && bundle.Intent != nil {
		gm.metrics.ObserveIntent(string(bundle.Intent.Type), string(outcome.Resolution.Decision))
	}

	if outcome.Suspended() {
		gm.pending = outcome.Pending
		gm.metrics.IncCommits(metrics.CommitSuspended)
		gm.metrics.IncSuspensions()
		gm.Logger.Info("Waiting on narrator",
			zap.String("continuation_id", outcome.Pending.Suspension.Continuation.ID),
			zap.String("prompt", outcome.Pending.Suspension.Prompt.Title))
	} else {
		gm.state = outcome.State
		gm.metrics.IncCommits(metrics.CommitApplied)
		gm.refreshQueue(bundle.BeginPhase)
		if outcome.Result != nil {
			gm.metrics.IncWins(string(outcome.Result.Winner))
		}
	}

	if err := gm.saveState(); err != nil {
		return fmt.Errorf("failed to save game state: %w", err)
	}
	return nil
}

func (gm *GameManager) refreshQueue(begin types.Phase) {
	fresh := scheduler.Build(gm.state, gm.rules.Roles, gm.rules.Effects)
	_, over := gm.state.Winner()
	switch {
	case begin == types.PhaseNight:
		gm.queue = fresh
	case gm.state.Phase != types.PhaseNight:
		gm.queue = nil
	case over:
		gm.queue = fresh
	case gm.queue != nil:
		gm.queue.Refresh(fresh)
	}
	gm.metrics.SetQueueLength(len(gm.queue.Remaining()))
}

// NightQueue returns a copy of tonight's queue, or nil outside the night
func (gm *GameManager) NightQueue() *scheduler.Queue {
	gm.stateLock.RLock()
	defer gm.stateLock.RUnlock()

	if gm.queue == nil {
		return nil
	}
	queue := *gm.queue
	queue.Turns = append([]scheduler.Turn(nil), gm.queue.Turns...)
	return &queue
}

// NextActor finishes the current night turn and returns the one after it
func (gm *GameManager) NextActor() (scheduler.Turn, bool, error) {
	gm.stateLock.Lock()
	defer gm.stateLock.Unlock()

	if gm.pending != nil {
		return scheduler.Turn{}, false, ErrPromptPending
	}
	if gm.queue == nil {
		return scheduler.Turn{}, false, scheduler.ErrQueueEmpty
	}

	next, ok, err := gm.queue.Advance()
	if err != nil {
		return scheduler.Turn{}, false, err
	}
	gm.metrics.SetQueueLength(len(gm.queue.Remaining()))

	if err := gm.saveState(); err != nil {
		return scheduler.Turn{}, false, fmt.Errorf("failed to save game state: %w", err)
	}
	return next, ok, nil
}

// PendingPrompt returns the parked commit, if any
func (gm *GameManager) PendingPrompt() (*transition.Pending, bool) {
	gm.stateLock.RLock()
	defer gm.stateLock.RUnlock()

	if gm.pending == nil {
		return nil, false
	}
	pending := *gm.pending
	return &pending, true
}

// State returns a copy of the game state
func (gm *GameManager) State() *types.GameState {
	gm.stateLock.RLock()
	defer gm.stateLock.RUnlock()

	return gm.state.Clone()
}

// Perceive answers how targetID registers to observerID in ctx. overrides
// are the narrator's choices for this one question and are not kept. An
// empty observerID asks without an observer.
func (gm *GameManager) Perceive(targetID, observerID string, ctx types.Context, overrides map[string]types.PerceptionPatch) (types.Perception, error) {
	gm.stateLock.RLock()
	defer gm.stateLock.RUnlock()

	view := gm.state
	if len(overrides) > 0 {
		view = gm.perception.ApplyOverrides(gm.state, overrides)
	}

	target, ok := view.Player(targetID)
	if !ok {
		return types.Perception{}, fmt.Errorf("%w: %s", pipeline.ErrUnknownPlayer, targetID)
	}
	var observer *types.Player
	if observerID != "" {
		if observer, ok = view.Player(observerID); !ok {
			return types.Perception{}, fmt.Errorf("%w: %s", pipeline.ErrUnknownPlayer, observerID)
		}
	}
	return gm.perception.Perceive(target, observer, ctx, view), nil
}

// AmbiguousPlayers returns which of the given players the narrator has to
// decide about in ctx. No ids means the whole table.
func (gm *GameManager) AmbiguousPlayers(playerIDs []string, ctx types.Context) ([]types.Player, error) {
	gm.stateLock.RLock()
	defer gm.stateLock.RUnlock()

	players := gm.state.Players
	if len(playerIDs) > 0 {
		players = make([]types.Player, 0, len(playerIDs))
		for _, id := range playerIDs {
			player, ok := gm.state.Player(id)
			if !ok {
				return nil, fmt.Errorf("%w: %s", pipeline.ErrUnknownPlayer, id)
			}
			players = append(players, *player)
		}
	}

	ambiguous := gm.perception.AmbiguousPlayers(players, ctx)
	out := make([]types.Player, len(ambiguous))
	for i, player := range ambiguous {
		out[i] = player.Clone()
	}
	return out, nil
}

// ApplyPerceptionOverrides returns the table as it looks with the narrator's
// choices pinned, for the information action being answered. The game state
// is not changed.
func (gm *GameManager) ApplyPerceptionOverrides(overrides map[string]types.PerceptionPatch) (*types.GameState, error) {
	gm.stateLock.RLock()
	defer gm.stateLock.RUnlock()

	for id := range overrides {
		if _, ok := gm.state.Player(id); !ok {
			return nil, fmt.Errorf("%w: %s", pipeline.ErrUnknownPlayer, id)
		}
	}

	gm.Logger.Debug("Perception overrides derived", zap.Int("players", len(overrides)))
	return gm.perception.ApplyOverrides(gm.state, overrides), nil
}

// CanVote reports whether the player may vote right now
func (gm *GameManager) CanVote(playerID string) (bool, error) {
	gm.stateLock.RLock()
	defer gm.stateLock.RUnlock()

	player, ok := gm.state.Player(playerID)
	if !ok {
		return false, fmt.Errorf("%w: %s", pipeline.ErrUnknownPlayer, playerID)
	}
	return effects.CanVote(gm.rules.Effects, player), nil
}

// CanNominate reports whether the player may nominate right now
func (gm *GameManager) CanNominate(playerID string) (bool, error) {
	gm.stateLock.RLock()
	defer gm.stateLock.RUnlock()

	player, ok := gm.state.Player(playerID)
	if !ok {
		return false, fmt.Errorf("%w: %s", pipeline.ErrUnknownPlayer, playerID)
	}
	return effects.CanNominate(gm.rules.Effects, player), nil
}

// SetMessageSender sets the message sender
func (gm *GameManager) SetMessageSender(sender interfaces.MessageSender) {
	gm.stateLock.Lock()
	defer gm.stateLock.Unlock()

	gm.messageSender = sender
}

// SendMessage sends a private message to a player
func (gm *GameManager) SendMessage(playerID string, message string) error {
	gm.stateLock.RLock()
	sender := gm.messageSender
	player, ok := gm.state.Player(playerID)
	var contact string
	if ok {
		contact = player.Contact
	}
	gm.stateLock.RUnlock()

	if sender == nil {
		return ErrNoMessageSender
	}
	if !ok {
		return fmt.Errorf("%w: %s", pipeline.ErrUnknownPlayer, playerID)
	}
	if contact == "" {
		return fmt.Errorf("player %s has no contact", playerID)
	}

	if _, err := sender.SendMessage(contact, message); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// SendRoleReveals tells every reachable player their role privately and
// returns how many messages went out
func (gm *GameManager) SendRoleReveals() (int, error) {
	gm.stateLock.RLock()
	sender := gm.messageSender
	type reveal struct{ playerID, contact, text string }
	var reveals []reveal
	for i := range gm.state.Players {
		player := &gm.state.Players[i]
		if player.Contact == "" {
			continue
		}
		reveals = append(reveals, reveal{
			playerID: player.ID,
			contact:  player.Contact,
			text:     gm.revealText(player),
		})
	}
	gm.stateLock.RUnlock()

	if sender == nil {
		return 0, ErrNoMessageSender
	}

	sent := 0
	var errs []error
	for _, r := range reveals {
		if _, err := sender.SendMessage(r.contact, r.text); err != nil {
			gm.Logger.Warn("Role reveal failed", zap.String("player_id", r.playerID), zap.Error(err))
			errs = append(errs, fmt.Errorf("reveal to %s: %w", r.playerID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (gm *GameManager) revealText(player *types.Player) string {
	role := gm.rules.Roles.MustRole(player.RoleID)
	team, _ := gm.rules.Roles.TeamOf(player.RoleID)
	name := role.Name
	if name == "" {
		name = role.ID
	}
	teamName := team.Name
	if teamName == "" {
		teamName = team.ID
	}
	return fmt.Sprintf("%s, you are the %s (%s).", player.Name, name, teamName)
}
