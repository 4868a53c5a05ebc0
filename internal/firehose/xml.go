package firehose

import (
	"encoding/xml"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// marshalRequest wraps a single directive in the `<?xml ?><data>...</data>`
// shape every host command uses, per spec.md §4.7's Framing.
func marshalRequest(directive interface{}) ([]byte, error) {
	inner, err := xml.Marshal(directive)
	if err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "firehose.marshalRequest", err, "marshal directive")
	}
	out := append([]byte(xml.Header), []byte("<data>")...)
	out = append(out, inner...)
	out = append(out, []byte("</data>")...)
	return out, nil
}

type configureRequest struct {
	XMLName                       xml.Name `xml:"configure"`
	MemoryName                    string   `xml:"MemoryName,attr"`
	MaxPayloadSizeToTargetInBytes int      `xml:"MaxPayloadSizeToTargetInBytes,attr"`
	AckRawDataEveryNumPackets     int      `xml:"AckRawDataEveryNumPackets,attr"`
	ZlpAwareHost                  int      `xml:"ZlpAwareHost,attr"`
}

type readRequest struct {
	XMLName                xml.Name `xml:"read"`
	SectorSizeInBytes      int      `xml:"SECTOR_SIZE_IN_BYTES,attr"`
	NumPartitionSectors    uint64   `xml:"num_partition_sectors,attr"`
	PhysicalPartitionNumber int     `xml:"physical_partition_number,attr"`
	StartSector            string   `xml:"start_sector,attr"`
	SizeInKB               int64    `xml:"size_in_KB,attr"`
}

type programRequest struct {
	XMLName                 xml.Name `xml:"program"`
	SectorSizeInBytes       int      `xml:"SECTOR_SIZE_IN_BYTES,attr"`
	FileSectorOffset        int      `xml:"file_sector_offset,attr"`
	Filename                string   `xml:"filename,attr"`
	Label                   string   `xml:"label,attr,omitempty"`
	NumPartitionSectors     uint64   `xml:"num_partition_sectors,attr"`
	PhysicalPartitionNumber int      `xml:"physical_partition_number,attr"`
	StartSector             string   `xml:"start_sector,attr"`
}

type eraseRequest struct {
	XMLName                 xml.Name `xml:"erase"`
	StartSector             string   `xml:"start_sector,attr"`
	NumPartitionSectors     uint64   `xml:"num_partition_sectors,attr"`
	PhysicalPartitionNumber int      `xml:"physical_partition_number,attr"`
	Filename                string   `xml:"filename,attr,omitempty"`
	Label                   string   `xml:"label,attr,omitempty"`
}

type patchRequest struct {
	XMLName                 xml.Name `xml:"patch"`
	SectorSizeInBytes       int      `xml:"SECTOR_SIZE_IN_BYTES,attr"`
	ByteOffset              int      `xml:"byte_offset,attr"`
	Filename                string   `xml:"filename,attr"`
	PhysicalPartitionNumber int      `xml:"physical_partition_number,attr"`
	SizeInBytes             int      `xml:"size_in_bytes,attr"`
	StartSector             string   `xml:"start_sector,attr"`
	Value                   string   `xml:"value,attr"`
}

type setActiveSlotRequest struct {
	XMLName xml.Name `xml:"setactiveslot"`
	Slot    string   `xml:"slot,attr"`
}

type fixGPTRequest struct {
	XMLName           xml.Name `xml:"fixgpt"`
	LUN               string   `xml:"lun,attr"`
	GrowLastPartition int      `xml:"grow_last_partition,attr"`
}

type ufsGlobalRequest struct {
	XMLName              xml.Name `xml:"ufs"`
	BNumberLU            int      `xml:"bNumberLU,attr"`
	BBootEnable          int      `xml:"bBootEnable,attr"`
	BDescrAccessEn       int      `xml:"bDescrAccessEn,attr"`
	BInitPowerMode       int      `xml:"bInitPowerMode,attr"`
	BHighPriorityLUN     int      `xml:"bHighPriorityLUN,attr"`
	BSecureRemovalType   int      `xml:"bSecureRemovalType,attr"`
	BInitActiveICCLevel  int      `xml:"bInitActiveICCLevel,attr"`
	WPeriodicRTCUpdate   int      `xml:"wPeriodicRTCUpdate,attr"`
}

type ufsLUNRequest struct {
	XMLName        xml.Name `xml:"ufs"`
	LUN            int      `xml:"LUN,attr"`
	BLUEnable      int      `xml:"bLUEnable,attr"`
	BootLunID      int      `xml:"bootLunID,attr"`
	SizeInKB       int64    `xml:"size_in_KB,attr"`
	BLUWriteProtect int     `xml:"bLUWriteProtect,attr"`
}

type ufsCommitRequest struct {
	XMLName xml.Name `xml:"ufs"`
	Commit  string   `xml:"commit,attr"`
}

// responseElement is the parsed shape of a terminal `<response .../>`
// envelope. Full XML decoding is only used here and for configure, per
// spec.md §4.7 — the hot byte-scan path in scan.go avoids it.
type responseElement struct {
	XMLName   xml.Name `xml:"response"`
	Value     string   `xml:"value,attr"`
	RawMode   string   `xml:"rawmode,attr"`
	Error     string   `xml:"error,attr"`

	SectorSizeInBytes             int `xml:"SectorSizeInBytes,attr"`
	MaxPayloadSizeToTargetInBytes int `xml:"MaxPayloadSizeToTargetInBytes,attr"`
	NumPartitionSectors           uint64 `xml:"num_partition_sectors,attr"`
}

func parseResponseAttrs(envelope []byte) (*responseElement, error) {
	start := indexOf(envelope, []byte("<response "))
	if start < 0 {
		start = indexOf(envelope, []byte("<response/>"))
	}
	if start < 0 {
		return nil, xerr.New(xerr.KindProtocolViolation, "firehose.parseResponseAttrs", "no <response> element found")
	}
	end := indexOf(envelope[start:], []byte("/>"))
	if end < 0 {
		return nil, xerr.New(xerr.KindProtocolViolation, "firehose.parseResponseAttrs", "unterminated <response> element")
	}
	frag := append([]byte{}, envelope[start:start+end+2]...)
	var r responseElement
	if err := xml.Unmarshal(frag, &r); err != nil {
		return nil, xerr.Wrap(xerr.KindProtocolViolation, "firehose.parseResponseAttrs", err, "unmarshal response element")
	}
	return &r, nil
}
