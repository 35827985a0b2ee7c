package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danieldreier/flashcard-scheduler/internal/card"
	"github.com/danieldreier/flashcard-scheduler/internal/session"
	"github.com/danieldreier/flashcard-scheduler/internal/storage"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/commands"
	"github.com/leanovate/gopter/gen"
)

// --- System Under Test Definition ---

type serviceSUT struct {
	service *StudyService
	dir     string
}

// --- State Definition ---

// commandState is the model: how many cards exist and whether a session
// has been started.
type commandState struct {
	cards   int
	session bool
}

// commandResult is what every command reports back from the service.
type commandResult struct {
	view  *SessionView
	err   error
	cards int
}

func countCards(s *StudyService) int {
	items, err := s.storage.ListCards(nil)
	if err != nil {
		return -1
	}
	return len(items)
}

// checkView verifies the invariants every session view must hold.
func checkView(s *StudyService, v *SessionView) error {
	if v == nil {
		return nil
	}
	if v.Progress < 0 || v.Progress > 1 {
		return fmt.Errorf("progress %v out of range", v.Progress)
	}
	if v.Counts.New < 0 || v.Counts.Learning < 0 || v.Counts.Review < 0 || v.Reserve < 0 {
		return fmt.Errorf("negative counts %+v reserve %d", v.Counts, v.Reserve)
	}
	switch v.Status {
	case session.StatusComplete:
		if v.Card != nil {
			return fmt.Errorf("complete session still shows card %s", v.Card.ID)
		}
	case session.StatusIdle, session.StatusWaiting:
		if v.Card == nil {
			return fmt.Errorf("%s session has no card", v.Status)
		}
		if v.Card.Back != "" {
			return fmt.Errorf("back of %s shown while %s", v.Card.ID, v.Status)
		}
	case session.StatusFlipped:
		if v.Card == nil || v.Card.Back == "" {
			return fmt.Errorf("flipped session does not show the back")
		}
	default:
		return fmt.Errorf("unexpected status %q", v.Status)
	}
	if v.Card != nil {
		if _, err := s.storage.GetCard(v.Card.ID); err != nil {
			return fmt.Errorf("current card %s is not stored: %w", v.Card.ID, err)
		}
	}
	return nil
}

// expectedSessionError reports whether err is one of the refusals a
// session may legitimately give.
func expectedSessionError(err error) bool {
	return err == nil ||
		errors.Is(err, session.ErrNoCurrentCard) ||
		errors.Is(err, errCardNotDue) ||
		errors.Is(err, errNothingToUndo) ||
		strings.Contains(err.Error(), "cannot flip")
}

func postCheck(sut *serviceSUT, st commandState, result commands.Result, allowed func(error) bool) *gopter.PropResult {
	res := result.(commandResult)
	if res.err != nil && !allowed(res.err) {
		return &gopter.PropResult{Status: gopter.PropError, Error: res.err}
	}
	if res.cards != st.cards {
		return &gopter.PropResult{Status: gopter.PropError,
			Error: fmt.Errorf("model has %d cards, storage has %d", st.cards, res.cards)}
	}
	if err := checkView(sut.service, res.view); err != nil {
		return &gopter.PropResult{Status: gopter.PropError, Error: err}
	}
	return &gopter.PropResult{Status: gopter.PropTrue}
}

// --- Command Interface Implementations ---

type createCardCmd struct {
	sut   *serviceSUT
	Front string
}

func (c *createCardCmd) Run(sut commands.SystemUnderTest) commands.Result {
	c.sut = sut.(*serviceSUT)
	_, err := c.sut.service.CreateCard(c.Front, "back of "+c.Front, "", nil)
	return commandResult{err: err, cards: countCards(c.sut.service)}
}

func (c *createCardCmd) NextState(state commands.State) commands.State {
	st := state.(commandState)
	st.cards++
	return st
}

func (c *createCardCmd) PreCondition(commands.State) bool { return true }

func (c *createCardCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return postCheck(c.sut, state.(commandState), result, func(error) bool { return false })
}

func (c *createCardCmd) String() string { return fmt.Sprintf("CreateCard(%q)", c.Front) }

type deleteCardCmd struct {
	sut  *serviceSUT
	Pick int
}

func (c *deleteCardCmd) Run(sut commands.SystemUnderTest) commands.Result {
	c.sut = sut.(*serviceSUT)
	s := c.sut.service
	items, err := s.storage.ListCards(nil)
	if err != nil || len(items) == 0 {
		return commandResult{err: fmt.Errorf("no card to delete: %v", err), cards: countCards(s)}
	}
	err = s.DeleteCard(items[c.Pick%len(items)].ID)
	res := commandResult{err: err, cards: countCards(s)}
	if s.machine != nil {
		view, _ := s.SessionStatus()
		res.view = &view
	}
	return res
}

func (c *deleteCardCmd) NextState(state commands.State) commands.State {
	st := state.(commandState)
	st.cards--
	return st
}

func (c *deleteCardCmd) PreCondition(state commands.State) bool {
	return state.(commandState).cards > 0
}

func (c *deleteCardCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	return postCheck(c.sut, state.(commandState), result, func(error) bool { return false })
}

func (c *deleteCardCmd) String() string { return fmt.Sprintf("DeleteCard(%d)", c.Pick) }

// sessionCmd covers the session tools, which never change the card count.
type sessionCmd struct {
	sut   *serviceSUT
	name  string
	Grade int
}

func (c *sessionCmd) Run(sut commands.SystemUnderTest) commands.Result {
	c.sut = sut.(*serviceSUT)
	s := c.sut.service
	var (
		view SessionView
		err  error
	)
	switch c.name {
	case "start":
		view, err = s.StartSession(nil)
	case "flip":
		view, err = s.FlipCard()
	case "review":
		_, view, err = s.SubmitReview(context.Background(), card.Grade(c.Grade))
	case "undo":
		view, err = s.UndoReview(context.Background())
	}
	res := commandResult{err: err, cards: countCards(s)}
	if err == nil {
		res.view = &view
	}
	return res
}

func (c *sessionCmd) NextState(state commands.State) commands.State {
	st := state.(commandState)
	if c.name == "start" {
		st.session = true
	}
	return st
}

func (c *sessionCmd) PreCondition(state commands.State) bool {
	return c.name == "start" || state.(commandState).session
}

func (c *sessionCmd) PostCondition(state commands.State, result commands.Result) *gopter.PropResult {
	res := result.(commandResult)
	if c.name == "review" && !card.ValidGrade(card.Grade(c.Grade)) && res.err == nil {
		return &gopter.PropResult{Status: gopter.PropError, Error: fmt.Errorf("grade %d was accepted", c.Grade)}
	}
	allowed := expectedSessionError
	if c.name == "review" {
		allowed = func(err error) bool {
			return expectedSessionError(err) || strings.Contains(err.Error(), "invalid grade")
		}
	}
	return postCheck(c.sut, state.(commandState), result, allowed)
}

func (c *sessionCmd) String() string {
	if c.name == "review" {
		return fmt.Sprintf("SubmitReview(%d)", c.Grade)
	}
	return c.name
}

// TestCommandSequences verifies the consistency of the service through
// random command sequences.
func TestCommandSequences(t *testing.T) {
	mockTimeNow(t, t0)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.MaxSize = 40

	protoCmds := &commands.ProtoCommands{
		InitialStateGen: gen.Const(commandState{}),

		NewSystemUnderTestFunc: func(commands.State) commands.SystemUnderTest {
			dir, err := os.MkdirTemp("", "flashcards-commands")
			if err != nil {
				t.Fatalf("Failed to create temp dir: %v", err)
			}
			path := filepath.Join(dir, "cards.json")
			fileStorage := storage.NewFileStorage(path, nil)
			if err := fileStorage.Load(); err != nil {
				t.Fatalf("Failed to initialize storage: %v", err)
			}
			cfg := testConfig(path)
			cfg.DailyNewLimit = 3
			return &serviceSUT{service: NewStudyService(fileStorage, nil, cfg, nil), dir: dir}
		},

		DestroySystemUnderTestFunc: func(sut commands.SystemUnderTest) {
			s := sut.(*serviceSUT)
			s.service.Close()
			_ = os.RemoveAll(s.dir)
		},

		GenCommandFunc: func(state commands.State) gopter.Gen {
			weightedGens := []gen.WeightedGen{
				{Weight: 4, Gen: gen.Identifier().Map(func(front string) commands.Command {
					return &createCardCmd{Front: front}
				})},
				{Weight: 1, Gen: gen.IntRange(0, 100).Map(func(pick int) commands.Command {
					return &deleteCardCmd{Pick: pick}
				})},
				{Weight: 2, Gen: gen.Const(&sessionCmd{name: "start"})},
				{Weight: 3, Gen: gen.Const(&sessionCmd{name: "flip"})},
				{Weight: 6, Gen: gen.IntRange(0, 5).Map(func(grade int) commands.Command {
					return &sessionCmd{name: "review", Grade: grade}
				})},
				{Weight: 2, Gen: gen.Const(&sessionCmd{name: "undo"})},
			}
			return gen.Weighted(weightedGens)
		},
	}

	properties := gopter.NewProperties(parameters)
	properties.Property("command sequences preserve consistency", commands.Prop(protoCmds))
	properties.TestingRun(t)
}
