package epd

// Panel geometry of the supported 1.54" 200x200 tri-color panel.
const (
	Width  = 200
	Height = 200
)

// Controller opcodes.
const (
	cmdDriverOutputControl   byte = 0x01
	cmdDeepSleepMode         byte = 0x10
	cmdDataEntryMode         byte = 0x11
	cmdSoftwareReset         byte = 0x12
	cmdTemperatureControl    byte = 0x18
	cmdMasterActivation      byte = 0x20
	cmdDisplayUpdateControl2 byte = 0x22
	cmdWriteRAMBW            byte = 0x24
	cmdWriteRAMRed           byte = 0x26
	cmdBorderWaveformControl byte = 0x3C
	cmdSetRAMXStartEndPos    byte = 0x44
	cmdSetRAMYStartEndPos    byte = 0x45
	cmdSetRAMXCounter        byte = 0x4E
	cmdSetRAMYCounter        byte = 0x4F
)

// Register payload flags.
const (
	dataEntryIncrementXY byte = 0b11

	tempSensorInternal byte = 0x80

	borderWaveformFollowLUT byte = 0b0100
	borderWaveformLUT1      byte = 0b0001

	displayUpdateSequenceFull    byte = 0xF7
	displayUpdateSequencePartial byte = 0xCF

	deepSleepMode1 byte = 0x01
)
