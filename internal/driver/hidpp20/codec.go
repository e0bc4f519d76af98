package hidpp20

import (
	"encoding/binary"
	"fmt"

	"github.com/ratbagd/ratbagd/internal/capability"
	"github.com/ratbagd/ratbagd/internal/state"
)

// Wire layout for one onboard profile page. Every field has a fixed
// width so profileByteSize(caps) is computable without parsing: a
// profile header, followed by one fixed-width record per resolution,
// button, and LED slot.
const (
	nameFieldLength        = 32
	profileHeaderSize      = 1 + nameFieldLength + 1 + 1 + 2 + 1 + 2 // len+name+enabled+active+rate+angle+debounce
	resolutionRecordSize   = 5                                      // dpiX(2) dpiY(2) flags(1)
	ledRecordSize          = 13                                     // mode(1) rgb*3(9) brightness(1) duration(2)
)

func buttonRecordSize(macroMax int) int {
	return 1 + 2 + 2 + 1 + macroMax*2 // tag(1) param1(2) param2(2) macroLen(1) + macro events(2 each)
}

func profileByteSize(caps capability.Capabilities) int {
	return profileHeaderSize +
		caps.ResolutionCount*resolutionRecordSize +
		caps.ButtonCount*buttonRecordSize(caps.MacroMaxLength) +
		caps.LEDCount*ledRecordSize
}

func encodeProfile(p *state.Profile, caps capability.Capabilities) []byte {
	buf := make([]byte, profileByteSize(caps))
	off := 0

	name := p.Name
	if len(name) > nameFieldLength-1 {
		name = name[:nameFieldLength-1]
	}
	buf[off] = byte(len(name))
	off++
	copy(buf[off:off+nameFieldLength], name)
	off += nameFieldLength
	buf[off] = boolByte(p.Enabled)
	off++
	buf[off] = boolByte(p.Active)
	off++
	binary.LittleEndian.PutUint16(buf[off:], uint16(p.ReportRate))
	off += 2
	buf[off] = boolByte(p.AngleSnapping)
	off++
	binary.LittleEndian.PutUint16(buf[off:], uint16(p.Debounce))
	off += 2

	for _, r := range p.Resolutions {
		binary.LittleEndian.PutUint16(buf[off:], uint16(r.DPIX))
		binary.LittleEndian.PutUint16(buf[off+2:], uint16(r.DPIY))
		var flags byte
		if r.Enabled {
			flags |= 1
		}
		if r.Active {
			flags |= 2
		}
		if r.IsDefault {
			flags |= 4
		}
		buf[off+4] = flags
		off += resolutionRecordSize
	}

	recSize := buttonRecordSize(caps.MacroMaxLength)
	for _, b := range p.Buttons {
		encodeButton(buf[off:off+recSize], b, caps.MacroMaxLength)
		off += recSize
	}

	for _, l := range p.LEDs {
		buf[off] = ledModeCode(l.Mode)
		buf[off+1], buf[off+2], buf[off+3] = l.Primary.R, l.Primary.G, l.Primary.B
		buf[off+4], buf[off+5], buf[off+6] = l.Secondary.R, l.Secondary.G, l.Secondary.B
		buf[off+7], buf[off+8], buf[off+9] = l.Tertiary.R, l.Tertiary.G, l.Tertiary.B
		buf[off+10] = l.Brightness
		binary.LittleEndian.PutUint16(buf[off+11:], uint16(l.EffectDuration))
		off += ledRecordSize
	}
	return buf
}

func decodeProfile(index int, buf []byte, caps capability.Capabilities) (*state.Profile, error) {
	if len(buf) < profileByteSize(caps) {
		return nil, fmt.Errorf("hidpp20: short profile page (%d < %d)", len(buf), profileByteSize(caps))
	}
	off := 0
	nameLen := int(buf[off])
	off++
	name := string(buf[off : off+nameLen])
	off += nameFieldLength
	enabled := buf[off] != 0
	off++
	active := buf[off] != 0
	off++
	rate := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	angle := buf[off] != 0
	off++
	debounce := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2

	p := &state.Profile{
		Index: index, Name: name, Enabled: enabled, Active: active,
		ReportRate: rate, AngleSnapping: angle, Debounce: debounce,
	}

	p.Resolutions = make([]*state.Resolution, caps.ResolutionCount)
	for i := 0; i < caps.ResolutionCount; i++ {
		dpiX := int(binary.LittleEndian.Uint16(buf[off:]))
		dpiY := int(binary.LittleEndian.Uint16(buf[off+2:]))
		flags := buf[off+4]
		p.Resolutions[i] = &state.Resolution{
			Index: i, DPIX: dpiX, DPIY: dpiY,
			Enabled: flags&1 != 0, Active: flags&2 != 0, IsDefault: flags&4 != 0,
		}
		off += resolutionRecordSize
	}

	recSize := buttonRecordSize(caps.MacroMaxLength)
	p.Buttons = make([]*state.Button, caps.ButtonCount)
	for i := 0; i < caps.ButtonCount; i++ {
		p.Buttons[i] = decodeButton(i, buf[off:off+recSize])
		off += recSize
	}

	p.LEDs = make([]*state.LED, caps.LEDCount)
	for i := 0; i < caps.LEDCount; i++ {
		p.LEDs[i] = &state.LED{
			Index: i,
			Mode:  ledModeFromCode(buf[off]),
			Primary: state.Color{R: buf[off+1], G: buf[off+2], B: buf[off+3]},
			Secondary: state.Color{R: buf[off+4], G: buf[off+5], B: buf[off+6]},
			Tertiary: state.Color{R: buf[off+7], G: buf[off+8], B: buf[off+9]},
			Brightness: buf[off+10],
			EffectDuration: uint(binary.LittleEndian.Uint16(buf[off+11:])),
			Depth: state.ColorDepth24,
		}
		off += ledRecordSize
	}
	return p, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

const (
	actionNone = iota
	actionLogical
	actionSpecial
	actionKey
	actionMacro
)

func encodeButton(buf []byte, b *state.Button, macroMax int) {
	switch a := b.Action.(type) {
	case state.NoAction:
		buf[0] = actionNone
	case state.LogicalButtonAction:
		buf[0] = actionLogical
		binary.LittleEndian.PutUint16(buf[1:], uint16(a.Button))
	case state.SpecialAction:
		buf[0] = actionSpecial
		binary.LittleEndian.PutUint16(buf[1:], uint16(a.Code))
	case state.KeyAction:
		buf[0] = actionKey
		buf[1] = byte(a.Keycode)
		if len(a.Modifiers) > 0 {
			buf[3] = byte(a.Modifiers[0])
		}
	case state.MacroAction:
		buf[0] = actionMacro
		n := len(a.Events)
		if n > macroMax {
			n = macroMax
		}
		buf[5] = byte(n)
		for i := 0; i < n; i++ {
			buf[6+i*2] = byte(a.Events[i].Keycode)
			buf[6+i*2+1] = boolByte(a.Events[i].Press)
		}
	}
}

func decodeButton(index int, buf []byte) *state.Button {
	var action state.ButtonAction
	switch buf[0] {
	case actionLogical:
		action = state.LogicalButtonAction{Button: uint(binary.LittleEndian.Uint16(buf[1:]))}
	case actionSpecial:
		action = state.SpecialAction{Code: uint(binary.LittleEndian.Uint16(buf[1:]))}
	case actionKey:
		mods := []uint(nil)
		if buf[3] != 0 {
			mods = []uint{uint(buf[3])}
		}
		action = state.KeyAction{Keycode: uint(buf[1]), Modifiers: mods}
	case actionMacro:
		n := int(buf[5])
		events := make([]state.MacroEvent, n)
		for i := 0; i < n; i++ {
			events[i] = state.MacroEvent{Keycode: uint(buf[6+i*2]), Press: buf[6+i*2+1] != 0}
		}
		action = state.MacroAction{Events: events}
	default:
		action = state.NoAction{}
	}
	return &state.Button{Index: index, Action: action}
}

func ledModeCode(m state.LEDMode) byte {
	switch m {
	case state.LEDSolid:
		return 1
	case state.LEDCycle:
		return 2
	case state.LEDWave:
		return 3
	case state.LEDStarlight:
		return 4
	case state.LEDBreathing:
		return 5
	case state.LEDTricolor:
		return 6
	default:
		return 0
	}
}

func ledModeFromCode(c byte) state.LEDMode {
	switch c {
	case 1:
		return state.LEDSolid
	case 2:
		return state.LEDCycle
	case 3:
		return state.LEDWave
	case 4:
		return state.LEDStarlight
	case 5:
		return state.LEDBreathing
	case 6:
		return state.LEDTricolor
	default:
		return state.LEDOff
	}
}
