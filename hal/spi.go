package hal

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/drivers"

	"loranode-go/errcode"
)

type Mode uint8

const (
	Mode0 Mode = iota
	Mode1
	Mode2
	Mode3
)

// SPIControllerConfig is what a platform controller needs to start.
type SPIControllerConfig struct {
	Frequency uint32
	Mode      Mode
	SCK       PinDriver
	SDO       PinDriver
	SDI       PinDriver
}

// SPIController is the raw platform SPI block. Tx moves one chunk that
// fits a single DMA descriptor; w and r are nil or of equal length.
type SPIController interface {
	Configure(cfg SPIControllerConfig) error
	Tx(w, r []byte) error
}

// BusConfig describes the shared SPI bus. CS must be NoPin: chip select
// is driven as a plain GPIO by the device that owns it.
type BusConfig struct {
	Controller string
	Frequency  uint32
	Mode       Mode
	SCK        int
	SDO        int
	SDI        int
	CS         int
	// Timeout bounds enqueue of one transfer and flags completions that
	// overrun it. A started transfer is always waited for. 0 waits forever.
	Timeout time.Duration
}

// BuildBus claims the controller and data pins and returns a
// DMA-backed SPI bus. Invalid parameters fail with errcode.BusConfig.
func BuildBus(p *Peripherals, clocks Clocks, cfg BusConfig, dma *DMAChannel, tx, rx *DescriptorRing) (*SPIBus, error) {
	const op = "hal.BuildBus"
	switch {
	case cfg.CS != NoPin:
		return nil, errcode.New(errcode.BusConfig, op, "hardware chip-select not supported")
	case cfg.Frequency == 0:
		return nil, errcode.New(errcode.BusConfig, op, "zero frequency")
	case cfg.Frequency > clocks.MaxSPIHz():
		return nil, errcode.New(errcode.BusConfig, op,
			"frequency "+strconv.FormatUint(uint64(cfg.Frequency), 10)+" Hz above "+
				strconv.FormatUint(uint64(clocks.MaxSPIHz()), 10)+" Hz")
	case cfg.Mode > Mode3:
		return nil, errcode.New(errcode.BusConfig, op, "mode "+strconv.Itoa(int(cfg.Mode)))
	case dma == nil || !dma.Async():
		return nil, errcode.New(errcode.BusConfig, op, "dma channel not configured for async")
	case tx == nil || rx == nil || tx.Len() == 0 || rx.Len() == 0:
		return nil, errcode.New(errcode.BusConfig, op, "descriptor rings missing")
	}

	pins := [3]int{cfg.SCK, cfg.SDO, cfg.SDI}
	roles := [3]string{"spi.sck", "spi.sdo", "spi.sdi"}
	var drv [3]PinDriver
	for i, n := range pins {
		d, err := p.claimPin(op, roles[i], n)
		if err != nil {
			for j := 0; j < i; j++ {
				p.releasePin(pins[j])
			}
			return nil, errcode.Wrap(errcode.BusConfig, op, err)
		}
		drv[i] = d
	}

	ctrl, err := p.ClaimSPI("spi", cfg.Controller)
	if err != nil {
		for _, n := range pins {
			p.releasePin(n)
		}
		return nil, errcode.Wrap(errcode.BusConfig, op, err)
	}
	if err := ctrl.Configure(SPIControllerConfig{
		Frequency: cfg.Frequency, Mode: cfg.Mode,
		SCK: drv[0], SDO: drv[1], SDI: drv[2],
	}); err != nil {
		return nil, errcode.Wrap(errcode.BusConfig, op, err)
	}

	b := &SPIBus{
		cfg:     cfg,
		ctrl:    ctrl,
		dma:     dma,
		limit:   min(tx.Capacity(), rx.Capacity()),
		chunk:   tx.ChunkSize(),
		reqs:    make(chan spiReq, 4),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go b.loop()
	return b, nil
}

// request posted to the bus worker
type spiReq struct {
	w, r []byte
	done chan error // buffered(1); worker replies best-effort
}

// SPIBus is a DMA-backed full-duplex SPI master. One worker goroutine owns
// the controller; callers post requests and wait for completion.
type SPIBus struct {
	cfg   BusConfig
	ctrl  SPIController
	dma   *DMAChannel
	limit int
	chunk int

	reqs      chan spiReq
	quit      chan struct{}
	stopped   chan struct{} // closed once the worker has exited
	closeOnce sync.Once

	transfers atomic.Uint32
	chunks    atomic.Uint32
	bytes     atomic.Uint32
	overruns  atomic.Uint32
}

var _ drivers.SPI = (*SPIBus)(nil)

func (b *SPIBus) Config() BusConfig         { return b.cfg }
func (b *SPIBus) DMA() *DMAChannel          { return b.dma }
func (b *SPIBus) MaxTransfer() int          { return b.limit }
func (b *SPIBus) Controller() SPIController { return b.ctrl }

// Stats reports completed transfers, DMA chunks and bytes moved.
func (b *SPIBus) Stats() (transfers, chunks, bytes uint32) {
	return b.transfers.Load(), b.chunks.Load(), b.bytes.Load()
}

// Overruns counts transfers that completed after the bus timeout.
func (b *SPIBus) Overruns() uint32 { return b.overruns.Load() }

func (b *SPIBus) loop() {
	defer close(b.stopped)
	for {
		select {
		case req := <-b.reqs:
			reply(req, b.run(req.w, req.r))
		case <-b.quit:
			for {
				select {
				case req := <-b.reqs:
					reply(req, errcode.BusClosed)
				default:
					return
				}
			}
		}
	}
}

func reply(req spiReq, err error) {
	select {
	case req.done <- err:
	default:
	}
}

// wait blocks until the worker has finished with req. A request still
// queued when the worker exits was never touched.
func (b *SPIBus) wait(req spiReq) error {
	select {
	case err := <-req.done:
		return err
	case <-b.stopped:
		select {
		case err := <-req.done:
			return err
		default:
			return errcode.BusClosed
		}
	}
}

// run splits one transfer into descriptor-sized chunks.
func (b *SPIBus) run(w, r []byte) error {
	n := max(len(w), len(r))
	for off := 0; off < n; off += b.chunk {
		end := min(off+b.chunk, n)
		var cw, cr []byte
		if w != nil {
			cw = w[off:end]
		}
		if r != nil {
			cr = r[off:end]
		}
		if err := b.ctrl.Tx(cw, cr); err != nil {
			return err
		}
		b.chunks.Add(1)
	}
	b.transfers.Add(1)
	b.bytes.Add(uint32(n))
	return nil
}

func (b *SPIBus) check(w, r []byte) error {
	if w != nil && r != nil && len(w) != len(r) {
		return errcode.New(errcode.InvalidParams, "hal.SPIBus.Tx", "write and read lengths differ")
	}
	if n := max(len(w), len(r)); n > b.limit {
		return errcode.New(errcode.TransferTooLarge, "hal.SPIBus.Tx",
			strconv.Itoa(n)+" > "+strconv.Itoa(b.limit))
	}
	select {
	case <-b.quit:
		return errcode.BusClosed
	default:
	}
	return nil
}

// Tx performs one full-duplex transfer. w or r may be nil. Once queued,
// Tx does not return before the worker is done with the buffers; a
// transfer that overran the timeout reports errcode.Timeout.
func (b *SPIBus) Tx(w, r []byte) error {
	if err := b.check(w, r); err != nil {
		return err
	}
	req := spiReq{w: w, r: r, done: make(chan error, 1)}

	if b.cfg.Timeout <= 0 {
		select {
		case b.reqs <- req:
		case <-b.quit:
			return errcode.BusClosed
		}
		return b.wait(req)
	}

	t := time.NewTimer(b.cfg.Timeout)
	defer t.Stop()
	select {
	case b.reqs <- req:
	case <-t.C:
		return errcode.Busy
	case <-b.quit:
		return errcode.BusClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-t.C:
	}
	b.overruns.Add(1)
	if err := b.wait(req); err != nil {
		return err
	}
	return errcode.Timeout
}

// TxAsync queues a transfer without waiting. The returned channel yields
// exactly one result. The buffers must not be touched until it does.
func (b *SPIBus) TxAsync(w, r []byte) <-chan error {
	done := make(chan error, 1)
	if err := b.check(w, r); err != nil {
		done <- err
		return done
	}
	select {
	case b.reqs <- spiReq{w: w, r: r, done: done}:
	default:
		done <- errcode.Busy
	}
	return done
}

// Transfer exchanges a single byte.
func (b *SPIBus) Transfer(w byte) (byte, error) {
	var r [1]byte
	err := b.Tx([]byte{w}, r[:])
	return r[0], err
}

// Close stops the worker. Pending and later transfers fail with BusClosed.
func (b *SPIBus) Close() {
	b.closeOnce.Do(func() { close(b.quit) })
}

// Device binds the bus to a software chip select.
func (b *SPIBus) Device(cs *Output) *SPIDevice {
	cs.SetHigh()
	return &SPIDevice{bus: b, cs: cs}
}

// SPIDevice is one peripheral on the shared bus. Tx frames each transfer
// with chip select; Transaction holds it across several.
type SPIDevice struct {
	mu  sync.Mutex
	bus *SPIBus
	cs  *Output
}

var _ drivers.SPI = (*SPIDevice)(nil)

func (d *SPIDevice) Bus() *SPIBus        { return d.bus }
func (d *SPIDevice) ChipSelect() *Output { return d.cs }

func (d *SPIDevice) Tx(w, r []byte) error {
	return d.Transaction(func(bus drivers.SPI) error { return bus.Tx(w, r) })
}

// Transfer exchanges one byte without touching chip select. Use it inside
// Transaction.
func (d *SPIDevice) Transfer(w byte) (byte, error) { return d.bus.Transfer(w) }

// Transaction asserts chip select, runs fn against the raw bus and
// releases chip select.
func (d *SPIDevice) Transaction(fn func(bus drivers.SPI) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cs.SetLow()
	defer d.cs.SetHigh()
	return fn(d.bus)
}
