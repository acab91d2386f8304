package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"
)

type mpvCommand struct {
	Command   []interface{} `json:"command"`
	RequestID int           `json:"request_id,omitempty"`
}

type mpvResponse struct {
	Data      interface{} `json:"data"`
	RequestID int         `json:"request_id"`
	Error     string      `json:"error"`
}

type mpvEvent struct {
	Event  string      `json:"event"`
	Reason string      `json:"reason,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// playerEvent is an internal event queued for the listener dispatcher so
// callbacks run serially and outside the player lock.
type playerEvent struct {
	playingChanged bool
	playing        bool
	stateChanged   bool
	state          State
	err            error
}

// MPV drives an mpv subprocess over its unix-socket JSON IPC. It satisfies
// Player; the process is started lazily on first Load and kept idle between
// tracks so switching is instant.
type MPV struct {
	mu         sync.Mutex
	name       string
	socketPath string
	cmd        *exec.Cmd
	uri        string
	state      State
	playing    bool
	position   time.Duration
	duration   time.Duration
	volume     float64
	listener     Listener
	events       chan playerEvent
	dispatchStop chan struct{}
	eventConn    net.Conn
	eventStop    chan struct{}
	closed       bool
}

// NewMPV creates an mpv-backed player. The name keeps the IPC sockets of the
// episode and stream instances apart.
func NewMPV(name string) *MPV {
	p := &MPV{
		name:         name,
		socketPath:   fmt.Sprintf("/tmp/mpv-%s-%d", name, os.Getpid()),
		state:        StateIdle,
		volume:       1.0,
		events:       make(chan playerEvent, 16),
		dispatchStop: make(chan struct{}),
	}

	// Clean up any stale socket from a previous run
	os.Remove(p.socketPath)

	go p.dispatchEvents()
	return p
}

// SetListener registers the event listener.
func (p *MPV) SetListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

// dispatchEvents delivers listener callbacks one at a time, in order. The
// events channel is never closed; the event reader can still be draining a
// buffered line while Close runs, so a send must always be safe. Shutdown is
// signalled through dispatchStop instead.
func (p *MPV) dispatchEvents() {
	for {
		var ev playerEvent
		select {
		case <-p.dispatchStop:
			return
		case ev = <-p.events:
		}

		p.mu.Lock()
		l := p.listener
		p.mu.Unlock()

		if ev.stateChanged && l.OnStateChanged != nil {
			l.OnStateChanged(ev.state)
		}
		if ev.playingChanged && l.OnIsPlayingChanged != nil {
			l.OnIsPlayingChanged(ev.playing)
		}
		if ev.err != nil && l.OnError != nil {
			l.OnError(ev.err)
		}
	}
}

func (p *MPV) emit(ev playerEvent) {
	select {
	case p.events <- ev:
	default:
		log.Printf("player %s: event queue full, dropping event", p.name)
	}
}

// ensureProcess starts mpv in idle mode if it is not already running.
// Caller must hold the lock.
func (p *MPV) ensureProcess() error {
	if p.cmd != nil {
		return nil
	}

	os.Remove(p.socketPath)

	cmd := exec.Command("mpv",
		"--no-video",
		"--really-quiet",
		"--no-terminal",
		fmt.Sprintf("--input-ipc-server=%s", p.socketPath),
		"--idle",
		"--force-window=no",
		"--keep-open=no",
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start mpv: %w", err)
	}

	// Wait for mpv to create the socket with timeout
	socketReady := false
	for i := 0; i < 10; i++ {
		if _, err := os.Stat(p.socketPath); err == nil {
			socketReady = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !socketReady {
		cmd.Process.Kill()
		cmd.Wait()
		return fmt.Errorf("mpv socket not created after timeout")
	}

	p.cmd = cmd

	if err := p.startEventListener(); err != nil {
		log.Printf("player %s: failed to start event listener: %v", p.name, err)
	}
	return nil
}

// Load prepares a source, paused, at the given start position.
func (p *MPV) Load(uri string, startPos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return fmt.Errorf("player %s is closed", p.name)
	}
	if err := p.ensureProcess(); err != nil {
		return err
	}

	opts := "pause=yes"
	if startPos > 0 {
		opts = fmt.Sprintf("start=%.3f,pause=yes", startPos.Seconds())
	}

	resp, err := p.sendCommand(mpvCommand{
		Command: []interface{}{"loadfile", uri, "replace", opts},
	})
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", uri, err)
	}
	if resp != nil && resp.Error != "success" && resp.Error != "" {
		return fmt.Errorf("failed to load %s: %s", uri, resp.Error)
	}

	p.uri = uri
	p.position = startPos
	p.duration = 0
	p.playing = false
	p.state = StateBuffering
	p.emit(playerEvent{stateChanged: true, state: StateBuffering})

	// Re-apply the volume; mpv resets per-file properties on load.
	p.applyVolume()

	return nil
}

// Play resumes or starts playback of the loaded source.
func (p *MPV) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateIdle && p.uri == "" {
		return fmt.Errorf("nothing loaded")
	}

	if _, err := p.sendCommand(mpvCommand{
		Command: []interface{}{"set_property", "pause", false},
	}); err != nil {
		return fmt.Errorf("failed to play: %w", err)
	}

	if !p.playing {
		p.playing = true
		p.emit(playerEvent{playingChanged: true, playing: true})
	}
	return nil
}

// Pause pauses playback.
func (p *MPV) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return nil
	}

	if _, err := p.sendCommand(mpvCommand{
		Command: []interface{}{"set_property", "pause", true},
	}); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}

	p.playing = false
	p.emit(playerEvent{playingChanged: true, playing: false})
	return nil
}

// Stop stops playback but keeps mpv running idle for the next Load.
func (p *MPV) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateIdle {
		return nil
	}

	if _, err := p.sendCommand(mpvCommand{Command: []interface{}{"stop"}}); err != nil {
		log.Printf("player %s: stop command failed: %v", p.name, err)
	}

	wasPlaying := p.playing
	p.playing = false
	p.state = StateIdle
	p.uri = ""
	p.position = 0
	p.duration = 0

	p.emit(playerEvent{stateChanged: true, state: StateIdle})
	if wasPlaying {
		p.emit(playerEvent{playingChanged: true, playing: false})
	}
	return nil
}

// SeekTo seeks to an absolute position. No-op when nothing is loaded.
func (p *MPV) SeekTo(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateIdle {
		return nil
	}
	if pos < 0 {
		pos = 0
	}
	if p.duration > 0 && pos > p.duration-time.Second {
		pos = p.duration - time.Second
		if pos < 0 {
			pos = 0
		}
	}

	if _, err := p.sendCommand(mpvCommand{
		Command: []interface{}{"seek", pos.Seconds(), "absolute"},
	}); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	p.position = pos
	return nil
}

// Position returns the current playback position, refreshing from mpv when a
// track is loaded.
func (p *MPV) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateIdle {
		return p.position
	}

	resp, err := p.sendCommand(mpvCommand{
		Command: []interface{}{"get_property", "time-pos"},
	})
	if err == nil {
		if pos, ok := resp.Data.(float64); ok && pos >= 0 {
			p.position = time.Duration(pos * float64(time.Second))
		}
	}
	return p.position
}

// Duration returns the duration of the loaded track, zero when unknown (the
// live stream never reports one).
func (p *MPV) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateIdle {
		return p.duration
	}

	resp, err := p.sendCommand(mpvCommand{
		Command: []interface{}{"get_property", "duration"},
	})
	if err == nil {
		if dur, ok := resp.Data.(float64); ok && dur > 0 {
			p.duration = time.Duration(dur * float64(time.Second))
		}
	}
	return p.duration
}

// State returns the current engine state.
func (p *MPV) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsPlaying reports whether audio is currently playing.
func (p *MPV) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// SetVolume sets the playback volume, v in [0, 1].
func (p *MPV) SetVolume(v float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	p.volume = v

	if p.cmd == nil {
		return nil
	}
	return p.applyVolume()
}

// applyVolume pushes the stored volume to mpv. Caller must hold the lock.
func (p *MPV) applyVolume() error {
	if _, err := p.sendCommand(mpvCommand{
		Command: []interface{}{"set_property", "volume", p.volume * 100},
	}); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}
	return nil
}

// Close releases the mpv process and all goroutines.
func (p *MPV) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.eventStop != nil {
		select {
		case <-p.eventStop:
		default:
			close(p.eventStop)
		}
	}
	if p.eventConn != nil {
		p.eventConn.Close()
		p.eventConn = nil
	}

	if p.cmd != nil && p.cmd.Process != nil {
		// Try graceful quit first
		p.sendCommand(mpvCommand{Command: []interface{}{"quit"}})

		done := make(chan error, 1)
		cmd := p.cmd
		go func() {
			done <- cmd.Wait()
		}()

		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
			log.Printf("player %s: force killing mpv (pid %d)", p.name, cmd.Process.Pid)
			if err := cmd.Process.Kill(); err != nil {
				log.Printf("player %s: error killing mpv: %v", p.name, err)
			}
			<-done
		}
	}
	p.cmd = nil
	p.state = StateIdle
	p.playing = false

	close(p.dispatchStop)
	os.Remove(p.socketPath)
	return nil
}

// sendCommand sends a command to mpv over the IPC socket and reads the reply.
func (p *MPV) sendCommand(cmd mpvCommand) (*mpvResponse, error) {
	conn, err := net.Dial("unix", p.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mpv socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write command: %w", err)
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		var response mpvResponse
		if err := json.Unmarshal(line, &response); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}

		// The command socket also sees broadcast events; skip them.
		if response.Error == "" {
			continue
		}
		if response.Error != "success" {
			return &response, fmt.Errorf("mpv error: %s", response.Error)
		}
		return &response, nil
	}
}

// startEventListener opens a dedicated connection for mpv events.
// Caller must hold the lock.
func (p *MPV) startEventListener() error {
	conn, err := net.Dial("unix", p.socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect for events: %w", err)
	}

	p.eventConn = conn
	p.eventStop = make(chan struct{})
	go p.handleEvents(conn, p.eventStop)
	return nil
}

// handleEvents processes mpv events from the dedicated connection.
func (p *MPV) handleEvents(conn net.Conn, stop chan struct{}) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}

		var event mpvEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Event {
		case "file-loaded":
			p.mu.Lock()
			p.state = StateReady
			p.emit(playerEvent{stateChanged: true, state: StateReady})
			p.mu.Unlock()
		case "end-file":
			switch event.Reason {
			case "error":
				p.mu.Lock()
				p.playing = false
				p.state = StateIdle
				p.emit(playerEvent{err: fmt.Errorf("mpv failed to play %s", p.uri)})
				p.emit(playerEvent{playingChanged: true, playing: false})
				p.mu.Unlock()
			case "eof", "":
				p.mu.Lock()
				if p.duration > 0 {
					p.position = p.duration
				}
				p.playing = false
				p.state = StateEnded
				p.emit(playerEvent{stateChanged: true, state: StateEnded})
				p.emit(playerEvent{playingChanged: true, playing: false})
				p.mu.Unlock()
			default:
				// "stop", "quit", "redirect": initiated by us or benign.
			}
		}
	}
}
