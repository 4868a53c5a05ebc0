package gpt

import (
	"encoding/xml"

	"github.com/HadiKhoirudin/sakuraedl-go/internal/xerr"
)

// ProgramDirective is one <program> entry in a rawprogram.xml artifact.
type ProgramDirective struct {
	XMLName          xml.Name `xml:"program"`
	SectorSizeBytes  int      `xml:"SECTOR_SIZE_IN_BYTES,attr"`
	FileSectorOffset int      `xml:"file_sector_offset,attr"`
	Filename         string   `xml:"filename,attr"`
	Label            string   `xml:"label,attr"`
	NumPartSectors   uint64   `xml:"num_partition_sectors,attr"`
	PhysPartNum      int      `xml:"physical_partition_number,attr"`
	StartSector      uint64   `xml:"start_sector,attr"`
}

// RawProgramXML is the root element of a rawprogram.xml artifact.
type RawProgramXML struct {
	XMLName  xml.Name           `xml:"data"`
	Programs []ProgramDirective `xml:"program"`
}

// PartitionEntryXML is one <partition> entry in a partition.xml artifact.
type PartitionEntryXML struct {
	XMLName     xml.Name `xml:"partition"`
	Label       string   `xml:"label,attr"`
	SizeSectors uint64   `xml:"size_in_sectors,attr"`
	Type        string   `xml:"type,attr"`
}

// PartitionXML is the root element of a partition.xml artifact.
type PartitionXML struct {
	XMLName    xml.Name             `xml:"partitions"`
	Partitions []PartitionEntryXML  `xml:"partition"`
}

// EmitRawProgram produces a rawprogram.xml artifact mapping each partition
// to a program directive, per spec.md §4.3/§6.
func EmitRawProgram(partitions []Partition, physPartNum int) ([]byte, error) {
	doc := RawProgramXML{}
	for _, p := range partitions {
		doc.Programs = append(doc.Programs, ProgramDirective{
			SectorSizeBytes: p.SectorSize,
			Filename:        p.Name + ".img",
			Label:           p.Name,
			NumPartSectors:  p.EndLBA - p.StartLBA + 1,
			PhysPartNum:     physPartNum,
			StartSector:     p.StartLBA,
		})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "gpt.EmitRawProgram", err, "marshal rawprogram.xml")
	}
	return out, nil
}

// EmitPartitionXML produces a partition.xml artifact listing partition
// geometry, per spec.md §4.3/§6.
func EmitPartitionXML(partitions []Partition) ([]byte, error) {
	doc := PartitionXML{}
	for _, p := range partitions {
		doc.Partitions = append(doc.Partitions, PartitionEntryXML{
			Label:       p.Name,
			SizeSectors: p.EndLBA - p.StartLBA + 1,
			Type:        p.TypeGUID.String(),
		})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, xerr.Wrap(xerr.KindMalformed, "gpt.EmitPartitionXML", err, "marshal partition.xml")
	}
	return out, nil
}
