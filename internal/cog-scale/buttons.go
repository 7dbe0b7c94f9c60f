package scale

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

type Action int

const (
	ActionTare Action = iota
	ActionMenu
	ActionNext
	ActionBack
)

func (a Action) String() string {
	switch a {
	case ActionTare:
		return "tare"
	case ActionMenu:
		return "menu"
	case ActionNext:
		return "next"
	case ActionBack:
		return "back"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

const (
	debounceInterval   = 250 * time.Millisecond
	buttonPollInterval = 10 * time.Millisecond
)

// debouncer drops triggers of an action that come within interval of its last accepted one.
type debouncer struct {
	interval time.Duration
	last     map[Action]time.Time
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval, last: map[Action]time.Time{}}
}

func (d *debouncer) accept(a Action, now time.Time) bool {
	if last, ok := d.last[a]; ok && now.Sub(last) < d.interval {
		return false
	}
	d.last[a] = now
	return true
}

type button struct {
	action  Action
	pin     gpio.PinIn
	pressed bool
}

// buttonPoller reads the active low buttons and reports presses on the falling edge.
type buttonPoller struct {
	buttons  []*button
	debounce *debouncer
}

func newButtonPoller(pins ButtonPins) (*buttonPoller, error) {
	named := []struct {
		action Action
		name   string
	}{
		{ActionTare, pins.Tare},
		{ActionMenu, pins.Menu},
		{ActionNext, pins.Next},
		{ActionBack, pins.Back},
	}
	gpioPins := map[Action]gpio.PinIn{}
	for _, n := range named {
		if n.name == "" {
			continue
		}
		log.Debugf("Initializing %s button on pin '%s'", n.action, n.name)
		pin := gpioreg.ByName(n.name)
		if pin == nil {
			return nil, fmt.Errorf("GPIO pin %s not found", n.name)
		}
		gpioPins[n.action] = pin
	}
	return newButtonPollerFromPins(gpioPins)
}

func newButtonPollerFromPins(pins map[Action]gpio.PinIn) (*buttonPoller, error) {
	p := &buttonPoller{debounce: newDebouncer(debounceInterval)}
	for _, a := range []Action{ActionTare, ActionMenu, ActionNext, ActionBack} {
		pin, ok := pins[a]
		if !ok {
			continue
		}
		if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return nil, fmt.Errorf("failed to set up %s button: %w", a, err)
		}
		p.buttons = append(p.buttons, &button{action: a, pin: pin})
	}
	return p, nil
}

func (p *buttonPoller) poll(now time.Time) []Action {
	actions := []Action{}
	for _, b := range p.buttons {
		down := b.pin.Read() == gpio.Low
		if down && !b.pressed && p.debounce.accept(b.action, now) {
			actions = append(actions, b.action)
		}
		b.pressed = down
	}
	return actions
}

// levels returns the raw level of each button pin, for the debug-raw command.
func (p *buttonPoller) levels() map[string]bool {
	levels := map[string]bool{}
	for _, b := range p.buttons {
		levels[b.pin.Name()] = bool(b.pin.Read())
	}
	return levels
}

func (p *buttonPoller) run(ctx context.Context, send func(Action)) {
	ticker := time.NewTicker(buttonPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, a := range p.poll(now) {
				log.Debugf("Button '%s' pressed", a)
				send(a)
			}
		}
	}
}

type menuItem struct {
	label string
	kind  CommandKind
}

var menuItems = []menuItem{
	{"Measure", CmdToggleContinuous},
	{"Calibrate", CmdStartCalibration},
	{"Show calibration", CmdShowCalibration},
	{"Raw readings", CmdDebugRaw},
}

// menu is the button driven menu. It lives in the controller goroutine.
type menu struct {
	open   bool
	cursor int
}

// press maps a button to a command. ok is false when the press only changes the menu, msg is
// what to show the operator.
func (m *menu) press(a Action, calibrating bool) (cmd Command, ok bool, msg string) {
	if calibrating {
		switch a {
		case ActionTare:
			return Command{Kind: CmdConfirmTare}, true, ""
		case ActionBack:
			return Command{Kind: CmdBack}, true, ""
		}
		return Command{}, false, ""
	}

	if a == ActionTare {
		m.open = false
		return Command{Kind: CmdTare}, true, ""
	}
	if !m.open {
		if a == ActionMenu {
			m.open = true
			m.cursor = 0
			return Command{}, false, m.line()
		}
		return Command{}, false, ""
	}

	switch a {
	case ActionNext:
		m.cursor = (m.cursor + 1) % len(menuItems)
		return Command{}, false, m.line()
	case ActionMenu:
		m.open = false
		return Command{Kind: menuItems[m.cursor].kind}, true, ""
	case ActionBack:
		m.open = false
		return Command{}, false, "Menu closed"
	}
	return Command{}, false, ""
}

func (m *menu) line() string {
	return "> " + menuItems[m.cursor].label
}
