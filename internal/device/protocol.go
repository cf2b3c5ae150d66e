// Package device speaks the stimulator's line protocol over a serial link.
package device

import (
	"fmt"

	"github.com/satindergrewal/neuroloop/internal/policy"
)

// Command is one protocol line without its terminator.
type Command string

// Frame returns the bytes written on the wire.
func (c Command) Frame() []byte {
	return []byte(string(c) + "\r\n")
}

// Output channels driven every cycle, and the STIM trigger arguments.
const (
	Channels = 2
	stimArg1 = 10
	stimArg2 = 0
)

func Freq(ch, hz int) Command { return Command(fmt.Sprintf("FREQ %d %d", ch, hz)) }
func Ampl(ch, mA int) Command { return Command(fmt.Sprintf("AMPL %d %d", ch, mA)) }
func Durn(ch, us int) Command { return Command(fmt.Sprintf("DURN %d %d", ch, us)) }
func Stim(ch, a1, a2 int) Command { return Command(fmt.Sprintf("STIM %d %d %d", ch, a1, a2)) }

// LEDStyle selects how indicator commands are spelled.
type LEDStyle string

const (
	LEDCompact LEDStyle = "compact" // LEDRED, LEDOFF
	LEDSpaced  LEDStyle = "spaced"  // LED RED, LED OFF
)

// StopCommand selects the command sent on emergency stop.
type StopCommand string

const (
	StopEOFF   StopCommand = "eoff"   // EOFF
	StopLEDOff StopCommand = "ledoff" // the LED-off command of the LED style
)

// Vocabulary is the firmware dialect in use. Both spellings exist in the
// field, so the choice is configuration rather than a canonical form.
type Vocabulary struct {
	LED  LEDStyle    `json:"led_style"`
	Stop StopCommand `json:"stop_command"`
}

// DefaultVocabulary spells indicators with a space and stops with EOFF.
var DefaultVocabulary = Vocabulary{LED: LEDSpaced, Stop: StopEOFF}

func (v Vocabulary) Validate() error {
	switch v.LED {
	case LEDCompact, LEDSpaced:
	default:
		return fmt.Errorf("device: unknown LED style %q", v.LED)
	}
	switch v.Stop {
	case StopEOFF, StopLEDOff:
	default:
		return fmt.Errorf("device: unknown stop command %q", v.Stop)
	}
	return nil
}

// Indicator renders the command that sets the status light.
func (v Vocabulary) Indicator(ind policy.Indicator) Command {
	if v.LED == LEDCompact {
		return Command("LED" + string(ind))
	}
	return Command("LED " + string(ind))
}

// EmergencyStop renders the all-off command.
func (v Vocabulary) EmergencyStop() Command {
	if v.Stop == StopLEDOff {
		return v.Indicator(policy.Off)
	}
	return "EOFF"
}

// CycleCommands lists one cycle's commands in wire order: the FREQ/AMPL/DURN
// triple per channel, one STIM per channel, then the indicator commands.
func (v Vocabulary) CycleCommands(p policy.Params, indicators []policy.Indicator) []Command {
	cmds := make([]Command, 0, 4*Channels+len(indicators))
	for ch := 1; ch <= Channels; ch++ {
		cmds = append(cmds, Freq(ch, p.Frequency), Ampl(ch, p.Amplitude), Durn(ch, p.Duration))
	}
	for ch := 1; ch <= Channels; ch++ {
		cmds = append(cmds, Stim(ch, stimArg1, stimArg2))
	}
	for _, ind := range indicators {
		cmds = append(cmds, v.Indicator(ind))
	}
	return cmds
}
