package hal

// NoPin marks an unused pin slot.
const NoPin = -1

type Level bool

const (
	Low  Level = false
	High Level = true
)

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// PinDriver is the platform's raw GPIO line.
type PinDriver interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Number() int
}

// Output is a claimed digital output bound to one role for its lifetime.
// The driven level is tracked here so it can be read back and toggled.
type Output struct {
	pin   PinDriver
	role  string
	level Level
}

func (o *Output) Role() string      { return o.role }
func (o *Output) Number() int       { return o.pin.Number() }
func (o *Output) Driver() PinDriver { return o.pin }
func (o *Output) Level() Level      { return o.level }
func (o *Output) IsSetHigh() bool   { return o.level == High }

func (o *Output) Set(l Level) {
	o.level = l
	o.pin.Set(bool(l))
}

func (o *Output) SetHigh() { o.Set(High) }
func (o *Output) SetLow()  { o.Set(Low) }
func (o *Output) Toggle()  { o.Set(!o.level) }

// Input is a claimed digital input bound to one role.
type Input struct {
	pin  PinDriver
	role string
	pull Pull
}

func (i *Input) Role() string      { return i.role }
func (i *Input) Number() int       { return i.pin.Number() }
func (i *Input) Driver() PinDriver { return i.pin }
func (i *Input) Pull() Pull        { return i.pull }
func (i *Input) IsHigh() bool      { return i.pin.Get() }
func (i *Input) IsLow() bool       { return !i.pin.Get() }
