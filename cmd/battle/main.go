package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codearena/battle-client/internal/config"
	"github.com/codearena/battle-client/internal/conn"
	"github.com/codearena/battle-client/internal/history"
	"github.com/codearena/battle-client/internal/session"
	"github.com/codearena/battle-client/internal/taskapi"
	"github.com/codearena/battle-client/internal/transport"
)

// resultDisplayDelay is how long a finished battle stays on screen before the
// client leaves the room and tears the connection down.
const resultDisplayDelay = 3 * time.Second

func main() {
	cfg := config.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		logger.Fatal("open history store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	tr := transport.NewWS(cfg.ServerURL, logger)
	manager := conn.NewManager(tr, logger)
	defer manager.Close()

	machine := session.NewMachine(ctx, manager, session.Config{
		Recorder: store,
		Logger:   logger,
	})
	defer machine.Close()

	if err := manager.Connect(ctx, cfg.Credential); err != nil {
		logger.Fatal("connect", zap.Error(err))
	}

	tasks := taskapi.NewClient(cfg.TaskAPIBase, logger)
	go watch(ctx, machine, manager, tasks, logger)

	repl(ctx, machine, manager, store)
}

// watch renders snapshots and drives the post-battle leave+disconnect.
func watch(ctx context.Context, m *session.Machine, manager *conn.Manager, tasks *taskapi.Client, logger *zap.Logger) {
	var lastPhase session.Phase
	var fetchedTask string
	var finishing bool

	for snap := range m.Watch("cli") {
		if snap.Phase != lastPhase {
			lastPhase = snap.Phase
			fmt.Printf("-- phase: %s", snap.Phase)
			if snap.Phase == session.PhaseError {
				fmt.Printf(" (%s)", snap.ErrorReason)
			}
			fmt.Println()
		}
		if snap.Phase == session.PhaseReadyCheck {
			fmt.Printf("   ready check: %ds remaining (%d/%d ready)\n",
				snap.CountdownSecondsRemaining, snap.ReadyCount, snap.ParticipantsCount)
		}
		if snap.Phase == session.PhaseGameStarted && snap.CurrentTaskID != "" && snap.CurrentTaskID != fetchedTask {
			fetchedTask = snap.CurrentTaskID
			if task, err := tasks.FetchTask(ctx, snap.CurrentTaskID); err != nil {
				logger.Warn("task fetch failed", zap.Error(err))
			} else {
				fmt.Printf("   task: %s\n%s\n", task.Title, task.Description)
			}
		}
		if snap.LastResult != nil && !finishing {
			finishing = true
			fmt.Printf("== battle %s: %s\n", snap.LastResult.Outcome, snap.LastResult.Message)
			go func() {
				time.Sleep(resultDisplayDelay)
				if err := m.LeaveRoom(ctx); err != nil {
					logger.Warn("leave after battle", zap.Error(err))
				}
				manager.Disconnect()
			}()
		}
		if snap.LastResult == nil {
			finishing = false
		}
	}
}

func repl(ctx context.Context, m *session.Machine, manager *conn.Manager, store history.Store) {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: create <name> [lang] [difficulty] | join <roomId> | ready | submit <file> | leave | status | history | quit")

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "create":
			if len(fields) < 2 {
				err = fmt.Errorf("usage: create <name> [lang] [difficulty]")
				break
			}
			lang, diff := "go", "easy"
			if len(fields) > 2 {
				lang = fields[2]
			}
			if len(fields) > 3 {
				diff = fields[3]
			}
			err = m.CreateRoom(ctx, fields[1], lang, diff)
		case "join":
			if len(fields) < 2 {
				err = fmt.Errorf("usage: join <roomId>")
				break
			}
			err = m.JoinRoom(ctx, fields[1])
		case "ready":
			err = m.ToggleReady(ctx)
		case "submit":
			if len(fields) < 2 {
				err = fmt.Errorf("usage: submit <file>")
				break
			}
			var code []byte
			if code, err = os.ReadFile(fields[1]); err == nil {
				err = m.SubmitCode(ctx, string(code))
			}
		case "leave":
			err = m.LeaveRoom(ctx)
		case "status":
			var snap session.State
			if snap, err = m.Snapshot(ctx); err == nil {
				st := manager.Status()
				fmt.Printf("connected=%v phase=%s room=%q players=%d ready=%d/%d self-ready=%v\n",
					st.Connected, snap.Phase, snap.RoomID, len(snap.Participants),
					snap.ReadyCount, snap.ParticipantsCount, snap.SelfReady)
			}
		case "history":
			var recs []history.BattleRecord
			if recs, err = store.Recent(10); err == nil {
				for _, r := range recs {
					fmt.Printf("%s  %-8s  %s\n", r.FinishedAt.Format(time.DateTime), r.Outcome, r.TaskTitle)
				}
			}
		case "quit":
			return
		default:
			err = fmt.Errorf("unknown command %q", fields[0])
		}

		if err != nil {
			fmt.Println("error:", err)
		}
	}
}
