package vitals

import (
	"fmt"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Reading holds the values decoded in one sweep. A nil pointer means the field was
// not read or was skipped.
type Reading struct {
	BPM         *float32
	SpO2        *float32
	Emergency   *uint8
	Temperature *float32
	Battery     *uint32
	MaxIR       *float32
	MinIR       *float32
}

// Set stores a decoded value for f. The value type must match f's encoding.
func (r *Reading) Set(f Field, value any) error {
	var ok bool
	switch f.UUID {
	case BPM.UUID:
		r.BPM, ok = ptrTo[float32](value)
	case SpO2.UUID:
		r.SpO2, ok = ptrTo[float32](value)
	case Emergency.UUID:
		r.Emergency, ok = ptrTo[uint8](value)
	case Temperature.UUID:
		r.Temperature, ok = ptrTo[float32](value)
	case Battery.UUID:
		r.Battery, ok = ptrTo[uint32](value)
	case MaxIR.UUID:
		r.MaxIR, ok = ptrTo[float32](value)
	case MinIR.UUID:
		r.MinIR, ok = ptrTo[float32](value)
	default:
		return fmt.Errorf("field %s is not telemetry", f.Name)
	}
	if !ok {
		return fmt.Errorf("field %s: unexpected value type %T", f.Name, value)
	}
	return nil
}

func ptrTo[T any](value any) (*T, bool) {
	v, ok := value.(T)
	if !ok {
		return nil, false
	}
	return &v, true
}

// Fields returns the present values in table order, formatted for display.
func (r *Reading) Fields() *orderedmap.OrderedMap[string, string] {
	fields := orderedmap.New[string, string]()

	putFloat := func(f Field, v *float32) {
		if v != nil {
			fields.Set(f.Name, FormatFloat(*v))
		}
	}

	putFloat(BPM, r.BPM)
	putFloat(SpO2, r.SpO2)
	if r.Emergency != nil {
		fields.Set(Emergency.Name, strconv.FormatUint(uint64(*r.Emergency), 10))
	}
	putFloat(Temperature, r.Temperature)
	if r.Battery != nil {
		fields.Set(Battery.Name, strconv.FormatUint(uint64(*r.Battery), 10))
	}
	putFloat(MaxIR, r.MaxIR)
	putFloat(MinIR, r.MinIR)

	return fields
}

// FormatFloat renders a float32 with the shortest representation that round-trips.
func FormatFloat(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}
