package dbusx

import dbus "github.com/godbus/dbus/v5"

// Props is a property dictionary as delivered in a{sv} arguments.
type Props map[string]dbus.Variant

func (p Props) String(key string) string {
	if v, ok := p[key]; ok {
		s, _ := v.Value().(string)
		return s
	}
	return ""
}

func (p Props) Bool(key string) bool {
	if v, ok := p[key]; ok {
		b, _ := v.Value().(bool)
		return b
	}
	return false
}

func (p Props) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p Props) Strings(key string) []string {
	if v, ok := p[key]; ok {
		ss, _ := v.Value().([]string)
		return ss
	}
	return nil
}

func (p Props) Uint32(key string) uint32 {
	if v, ok := p[key]; ok {
		u, _ := v.Value().(uint32)
		return u
	}
	return 0
}
