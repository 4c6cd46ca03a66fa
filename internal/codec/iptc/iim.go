package iptc

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/starford/exifwarden/internal/apperr"
)

const tagMarker = 0x1C

// Dataset is one IIM record:dataset value.
type Dataset struct {
	Record uint8
	Tag    uint8
	Data   []byte
}

var datasetNames = map[[2]uint8]string{
	{1, 0}:   "EnvelopeRecordVersion",
	{1, 90}:  "CodedCharacterSet",
	{2, 0}:   "RecordVersion",
	{2, 5}:   "ObjectName",
	{2, 7}:   "EditStatus",
	{2, 10}:  "Urgency",
	{2, 15}:  "Category",
	{2, 20}:  "SupplementalCategories",
	{2, 25}:  "Keywords",
	{2, 40}:  "SpecialInstructions",
	{2, 55}:  "DateCreated",
	{2, 60}:  "TimeCreated",
	{2, 62}:  "DigitalCreationDate",
	{2, 63}:  "DigitalCreationTime",
	{2, 65}:  "OriginatingProgram",
	{2, 70}:  "ProgramVersion",
	{2, 80}:  "By-line",
	{2, 85}:  "By-lineTitle",
	{2, 90}:  "City",
	{2, 92}:  "Sub-location",
	{2, 95}:  "Province-State",
	{2, 100}: "Country-PrimaryLocationCode",
	{2, 101}: "Country-PrimaryLocationName",
	{2, 103}: "OriginalTransmissionReference",
	{2, 105}: "Headline",
	{2, 110}: "Credit",
	{2, 115}: "Source",
	{2, 116}: "CopyrightNotice",
	{2, 118}: "Contact",
	{2, 120}: "Caption-Abstract",
	{2, 122}: "Writer-Editor",
}

var datasetIDs = func() map[string][2]uint8 {
	m := make(map[string][2]uint8, len(datasetNames))
	for id, name := range datasetNames {
		m[name] = id
	}
	return m
}()

// DatasetName returns the key for a record and dataset number.
func DatasetName(record, tag uint8) string {
	if name, ok := datasetNames[[2]uint8{record, tag}]; ok {
		return name
	}
	return fmt.Sprintf("IIM.%d:%d", record, tag)
}

// datasetID resolves a key back to its record and dataset number.
func datasetID(key string) ([2]uint8, bool) {
	if id, ok := datasetIDs[key]; ok {
		return id, true
	}
	rest, ok := strings.CutPrefix(key, "IIM.")
	if !ok {
		return [2]uint8{}, false
	}
	rs, ds, ok := strings.Cut(rest, ":")
	if !ok {
		return [2]uint8{}, false
	}
	r, err1 := strconv.ParseUint(rs, 10, 8)
	d, err2 := strconv.ParseUint(ds, 10, 8)
	if err1 != nil || err2 != nil {
		return [2]uint8{}, false
	}
	return [2]uint8{uint8(r), uint8(d)}, true
}

// ParseIIM reads a sequence of standard-length datasets.
func ParseIIM(data []byte) ([]Dataset, error) {
	var out []Dataset
	for pos := 0; pos < len(data); {
		if data[pos] != tagMarker {
			// Trailing padding after the last dataset.
			if allZero(data[pos:]) {
				break
			}
			return nil, apperr.Format("iptc: iim", "bad tag marker 0x%02X at %d", data[pos], pos)
		}
		if pos+5 > len(data) {
			return nil, apperr.Format("iptc: iim", "dataset header truncated at %d", pos)
		}
		n := int(binary.BigEndian.Uint16(data[pos+3:]))
		if n&0x8000 != 0 {
			return nil, apperr.Unsupported("iptc: iim", "extended dataset length at %d", pos)
		}
		start := pos + 5
		if start+n > len(data) {
			return nil, apperr.Format("iptc: iim", "dataset %d:%d past end", data[pos+1], data[pos+2])
		}
		out = append(out, Dataset{
			Record: data[pos+1],
			Tag:    data[pos+2],
			Data:   append([]byte(nil), data[start:start+n]...),
		})
		pos = start + n
	}
	return out, nil
}

// EncodeIIM serialises datasets.
func EncodeIIM(ds []Dataset) ([]byte, error) {
	var out []byte
	for _, d := range ds {
		if len(d.Data) > 0x7FFF {
			return nil, apperr.Unsupported("iptc: iim", "dataset %d:%d is %d bytes", d.Record, d.Tag, len(d.Data))
		}
		out = append(out, tagMarker, d.Record, d.Tag)
		out = binary.BigEndian.AppendUint16(out, uint16(len(d.Data)))
		out = append(out, d.Data...)
	}
	return out, nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
