// Package tray provides a system tray menu for switching the facelab backend and cadence.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/facelab/internal/detector"
	"github.com/ayusman/facelab/internal/params"
)

// Tray represents the system tray application.
type Tray struct {
	onSelect   func(kind detector.Kind)
	onTiming   func(t params.Timing)
	onSettings func()
	onQuit     func()
	selected   detector.Kind
	timing     params.Timing
	status     string
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuBackends map[detector.Kind]*systray.MenuItem
	menuTimings  map[int]*systray.MenuItem
	menuStatus   *systray.MenuItem
}

// New creates a new Tray showing kind and timing as selected.
func New(kind detector.Kind, timing params.Timing) *Tray {
	return &Tray{
		selected: kind,
		timing:   timing,
	}
}

// OnSelect sets the callback function to be called when a backend is picked.
func (t *Tray) OnSelect(fn func(kind detector.Kind)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSelect = fn
}

// OnTiming sets the callback function to be called when a cadence is picked.
func (t *Tray) OnTiming(fn func(timing params.Timing)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTiming = fn
}

// OnSettings sets the callback function to be called when the settings menu item is clicked.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit stops a running tray.
func (t *Tray) Quit() {
	systray.Quit()
}

type click struct {
	kind   detector.Kind
	timing params.Timing
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("facelab")
	systray.SetTooltip("facelab live detection")

	clicks := make(chan click)
	forward := func(item *systray.MenuItem, c click) {
		go func() {
			for range item.ClickedCh {
				clicks <- c
			}
		}()
	}

	t.mu.Lock()
	t.menuBackends = make(map[detector.Kind]*systray.MenuItem)
	for _, kind := range detector.Kinds() {
		item := systray.AddMenuItemCheckbox(kind.Title(), "Detect with "+kind.Title(), kind == t.selected)
		t.menuBackends[kind] = item
		forward(item, click{kind: kind})
	}
	systray.AddSeparator()

	menuTiming := systray.AddMenuItem("Timing", "Detection cadence")
	t.menuTimings = make(map[int]*systray.MenuItem)
	for _, timing := range params.Timings() {
		item := menuTiming.AddSubMenuItemCheckbox(timing.Title, "Detect every "+timing.Title, timing.Millis == t.timing.Millis)
		t.menuTimings[timing.Millis] = item
		forward(item, click{timing: timing})
	}
	systray.AddSeparator()

	t.menuStatus = systray.AddMenuItem(statusTitle(t.status), "View state")
	t.menuStatus.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	menuQuit := systray.AddMenuItem("Quit", "Quit facelab")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case c := <-clicks:
				if c.kind != "" {
					t.handleSelect(c.kind)
				} else {
					t.handleTiming(c.timing)
				}
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// handleSelect handles a backend menu item click.
func (t *Tray) handleSelect(kind detector.Kind) {
	t.mu.Lock()
	t.selected = kind
	t.checkBackendsLocked()
	callback := t.onSelect
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(kind)
	}
}

// handleTiming handles a timing menu item click.
func (t *Tray) handleTiming(timing params.Timing) {
	t.mu.Lock()
	t.timing = timing
	t.checkTimingsLocked()
	callback := t.onTiming
	t.mu.Unlock()

	if callback != nil {
		callback(timing)
	}
}

// handleSettings handles the settings menu item click.
func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// Sync reflects a change made elsewhere, such as through the API.
func (t *Tray) Sync(kind detector.Kind, timing params.Timing, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.selected = kind
	t.timing = timing
	t.status = status
	t.checkBackendsLocked()
	t.checkTimingsLocked()
	if t.menuStatus != nil {
		t.menuStatus.SetTitle(statusTitle(status))
	}
}

// Selected returns the checked backend.
func (t *Tray) Selected() detector.Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.selected
}

// Timing returns the checked cadence.
func (t *Tray) Timing() params.Timing {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timing
}

func (t *Tray) checkBackendsLocked() {
	for kind, item := range t.menuBackends {
		if kind == t.selected {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
}

func (t *Tray) checkTimingsLocked() {
	for ms, item := range t.menuTimings {
		if ms == t.timing.Millis {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
}

func statusTitle(status string) string {
	if status == "" {
		return "State: idle"
	}
	return "State: " + status
}
