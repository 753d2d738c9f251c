package hal

// Clocks is a frozen clock profile. It never changes after boot.
type Clocks struct {
	Profile string
	CPUHz   uint32
	// PeripheralHz feeds the SPI controllers.
	PeripheralHz uint32
}

// MaxSPIHz is the fastest SCK the peripheral clock can produce.
func (c Clocks) MaxSPIHz() uint32 { return c.PeripheralHz / 2 }
