package sdr

import (
	"math"

	"ipmc-core/errcode"
)

// Linearization identifies the reading-to-engineering-units curve a
// full sensor record applies. Only LinearizationLinear is supported by
// ToFloat/FromFloat, mirroring the original's "no exceptions, return an
// obviously-wrong value" fallback for unsupported curves.
type Linearization uint8

const LinearizationLinear Linearization = 0x00

// Record01 implements the type 01h Full Sensor Record: a readable
// threshold sensor with an explicit linear (or non-linear,
// unsupported) raw-to-engineering-units conversion, grounded on
// sensor_data_record_01.cpp / sensor_data_record_sensor.h.
type Record01 struct {
	rawHeader
}

const (
	r01OwnerID       = 5
	r01OwnerChanLun  = 6
	r01SensorNumber  = 7
	r01EntityID      = 8
	r01EntityInst    = 9
	r01SensorType    = 10
	r01EventReading  = 11
	r01UnitsFormat   = 20
	r01Linearization = 23
	r01ConvMLo       = 24
	r01ConvMHi       = 25
	r01ConvBLo       = 26
	r01ConvBHi       = 27
	r01ConvBAcc      = 28
	r01ConvExp       = 29
	r01Specified     = 30
	r01NominalRaw    = 31
	r01NormalMaxRaw  = 32
	r01NormalMinRaw  = 33
	r01SensorMaxRaw  = 34
	r01SensorMinRaw  = 35
	r01ThreshUNR     = 36
	r01ThreshUCR     = 37
	r01ThreshUNC     = 38
	r01ThreshLNR     = 39
	r01ThreshLCR     = 40
	r01ThreshLNC     = 41
	r01HysteresisHi  = 42
	r01HysteresisLo  = 43
	r01OEM           = 46
	r01IDStringOff   = 47
	r01MinLength     = 48
)

func (r *Record01) Validate() error {
	if err := r.validateHeader(RecordTypeFullSensor); err != nil {
		return err
	}
	if len(r.data) < r01MinLength {
		return errcode.New(errcode.InvalidSDR, "sdr.record01.validate", "record01 shorter than minimum layout")
	}
	return nil
}

// RecordKey is sensor owner ID + LUN + sensor number: the tuple that
// identifies "the same sensor" independent of assigned RecordID.
func (r *Record01) RecordKey() []byte {
	return []byte{r.data[r01OwnerID], r.data[r01OwnerChanLun] & 0x07, r.data[r01SensorNumber]}
}

func (r *Record01) SensorOwnerID() uint8   { return r.data[r01OwnerID] }
func (r *Record01) SensorOwnerLUN() uint8  { return r.data[r01OwnerChanLun] & 0x07 }
func (r *Record01) SensorNumber() uint8    { return r.data[r01SensorNumber] }
func (r *Record01) EntityID() uint8        { return r.data[r01EntityID] }
func (r *Record01) EntityInstance() uint8  { return r.data[r01EntityInst] & 0x7F }
func (r *Record01) SensorTypeCode() uint8  { return r.data[r01SensorType] }
func (r *Record01) EventReadingType() uint8 { return r.data[r01EventReading] }

func (r *Record01) Linearization() Linearization {
	return Linearization(r.data[r01Linearization] & 0x7F)
}

func (r *Record01) ConversionM() int16 {
	signExt := int16(int8(r.data[r01ConvMHi]) >> 6)
	return (signExt << 8) | int16(r.data[r01ConvMLo])
}

func (r *Record01) ConversionB() int16 {
	signExt := int16(int8(r.data[r01ConvBHi]) >> 6)
	return (signExt << 8) | int16(r.data[r01ConvBLo])
}

func (r *Record01) ConversionBExp() int8 {
	v := r.data[r01ConvExp] & 0x0F
	if v&0x08 != 0 {
		v |= 0xF0
	}
	return int8(v)
}

func (r *Record01) ConversionRExp() int8 {
	v := r.data[r01ConvExp] >> 4
	if v&0x08 != 0 {
		v |= 0xF0
	}
	return int8(v)
}

func (r *Record01) HysteresisHigh() uint8 { return r.data[r01HysteresisHi] }
func (r *Record01) HysteresisLow() uint8  { return r.data[r01HysteresisLo] }

func (r *Record01) ThresholdRaw(which ThresholdKind) uint8 {
	switch which {
	case ThresholdUNR:
		return r.data[r01ThreshUNR]
	case ThresholdUCR:
		return r.data[r01ThreshUCR]
	case ThresholdUNC:
		return r.data[r01ThreshUNC]
	case ThresholdLNR:
		return r.data[r01ThreshLNR]
	case ThresholdLCR:
		return r.data[r01ThreshLCR]
	case ThresholdLNC:
		return r.data[r01ThreshLNC]
	}
	return 0
}

// IDString returns the sensor's type/length-encoded ASCII name, per
// the id_string accessor of sensor_data_record_sensor.h.
func (r *Record01) IDString() string {
	if len(r.data) <= r01IDStringOff {
		return ""
	}
	typeLen := r.data[r01IDStringOff]
	length := int(typeLen & 0x1F)
	start := r01IDStringOff + 1
	if start+length > len(r.data) {
		length = len(r.data) - start
	}
	if length <= 0 {
		return ""
	}
	return string(r.data[start : start+length])
}

// ToFloat applies the reader-side conversion float = L[(M*raw +
// B*10^Bexp) * 10^Rexp], exactly as SensorDataRecord01::toFloat, i.e.
// NaN for any linearization curve this implementation does not
// support.
func (r *Record01) ToFloat(raw uint8) float64 {
	if r.Linearization() != LinearizationLinear {
		return math.NaN()
	}
	fval := float64(raw)
	fval *= float64(r.ConversionM())
	fval += float64(r.ConversionB()) * math.Pow(10, float64(r.ConversionBExp()))
	fval *= math.Pow(10, float64(r.ConversionRExp()))
	return fval
}

// FromFloat is the inverse conversion, clamped to the raw byte's
// domain and returning 0xFF (an obviously out-of-range sentinel) for
// an unsupported linearization curve, as SensorDataRecord01::fromFloat.
func (r *Record01) FromFloat(value float64) uint8 {
	if r.Linearization() != LinearizationLinear {
		return 0xFF
	}
	value /= math.Pow(10, float64(r.ConversionRExp()))
	value -= float64(r.ConversionB()) * math.Pow(10, float64(r.ConversionBExp()))
	value /= float64(r.ConversionM())
	value = math.Round(value)
	if value > 255.0 {
		return 0xFF
	}
	if value < 0.0 {
		return 0
	}
	return uint8(value)
}

// ThresholdKind enumerates the six threshold raw-value fields a full
// sensor record carries.
type ThresholdKind int

const (
	ThresholdLNC ThresholdKind = iota
	ThresholdLCR
	ThresholdLNR
	ThresholdUNC
	ThresholdUCR
	ThresholdUNR
)

// NewBlankRecord01 builds a minimally valid, zeroed type 01h record for
// the given sensor identity, ready for field accessors to populate.
func NewBlankRecord01(ownerID, ownerLUN, sensorNumber, entityID, sensorType, eventReadingType uint8, idString string) *Record01 {
	length := r01IDStringOff + 1 + len(idString)
	data := make([]byte, length)
	data[offRecordVersion] = 0x51 // SDR version 1.5, per IPMI spec convention
	data[offRecordType] = byte(RecordTypeFullSensor)
	data[offRecordLength] = byte(length - headerLength)
	data[r01OwnerID] = ownerID
	data[r01OwnerChanLun] = ownerLUN & 0x07
	data[r01SensorNumber] = sensorNumber
	data[r01EntityID] = entityID
	data[r01SensorType] = sensorType
	data[r01EventReading] = eventReadingType
	data[r01Linearization] = byte(LinearizationLinear)
	data[r01ConvMLo] = 1 // M=1, B=0, Rexp=0: identity conversion until configured
	data[r01IDStringOff] = 0xC0 | byte(len(idString)&0x1F)
	copy(data[r01IDStringOff+1:], idString)
	return &Record01{rawHeader: rawHeader{data: data}}
}
