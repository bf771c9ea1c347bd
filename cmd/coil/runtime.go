package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"coil/internal/config"
	"coil/internal/logging"
	"coil/internal/provider"
	"coil/internal/session"
	"coil/internal/store"
	"coil/internal/tools"
	"coil/internal/tools/builtin"
	"coil/internal/types"
)

// runtime bundles the components one conversation needs: the provider
// registry, the tool layer, the session and its driver, and the durable
// stores. The stores are best effort; when they cannot be opened the
// conversation runs in memory only.
type runtime struct {
	cfg      config.Config
	registry *provider.Registry
	tools    *tools.Registry
	session  *session.Session
	driver   *session.Driver
	sessions *store.SessionStore
	archive  *store.Archive
}

// newRuntime assembles a conversation runtime from config. withSessionFile
// controls whether turns mirror to a session file under .coil/sessions;
// one-shot commands skip the file and record to the archive only.
func newRuntime(cfg config.Config, withSessionFile bool) (*runtime, error) {
	reg := provider.NewRegistry(provider.EnvCredentials{})

	var toolReg *tools.Registry
	if cfg.Tools.Enabled {
		toolReg = tools.NewRegistry()
		if err := builtin.RegisterAll(toolReg); err != nil {
			return nil, fmt.Errorf("failed to register tools: %w", err)
		}
	}

	sess, err := session.New(reg, toolReg, cfg)
	if err != nil {
		return nil, err
	}

	driver := &session.Driver{
		Session:       sess,
		MaxToolRounds: cfg.Tools.MaxToolRounds,
	}
	if toolReg != nil {
		driver.Dispatcher = tools.NewDispatcher(
			toolReg,
			tools.NewCache(cfg.Tools.GetCacheTTL()),
			cfg.Tools.GetTimeout(),
		)
	}

	rt := &runtime{
		cfg:      cfg,
		registry: reg,
		tools:    toolReg,
		session:  sess,
		driver:   driver,
	}

	if dir, err := config.Dir(); err == nil {
		archive, err := store.NewArchive(filepath.Join(dir, "archive.db"))
		if err != nil {
			logging.ChatError("archive unavailable: %v", err)
		} else {
			rt.archive = archive
			driver.Archive = archive
		}

		if withSessionFile {
			sessions, err := store.NewSessionStore(filepath.Join(dir, "sessions"))
			if err != nil {
				logging.ChatError("session store unavailable: %v", err)
			} else {
				rt.sessions = sessions
				handle, err := sessions.GetOrCreate(newSessionID())
				if err != nil {
					logging.ChatError("session file unavailable: %v", err)
				} else {
					driver.Handle = handle
				}
			}
		}
	}

	return rt, nil
}

// Close releases the runtime's durable resources.
func (r *runtime) Close() {
	if r.archive != nil {
		_ = r.archive.Close()
	}
}

// sessionLabel is the id durable records file under, for display.
func (r *runtime) sessionLabel() string {
	if r.driver.Handle != nil {
		return r.driver.Handle.ID()
	}
	return r.session.ID()
}

func newSessionID() string {
	return "sess-" + time.Now().Format("20060102-150405")
}

// describeToolCall renders one tool call as a short single line, with the
// arguments JSON truncated so a giant write_file payload cannot flood the
// transcript.
func describeToolCall(call types.ToolCallRequest) string {
	args := ""
	if len(call.Arguments) > 0 {
		if b, err := json.Marshal(call.Arguments); err == nil {
			args = string(b)
		}
	}
	if len(args) > 120 {
		args = args[:117] + "..."
	}
	if args == "" {
		return call.Name
	}
	return fmt.Sprintf("%s %s", call.Name, args)
}
