package store

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"openfms/framekit/internal/model"
	"openfms/framekit/internal/protocol"
)

const exportSheet = "Traffic"

var exportHeaders = []string{"ID", "Time", "Session", "Device", "Protocol", "Port", "Direction", "Message ID", "Bytes", "Data"}

// ExportXLSX renders traffic logs as a spreadsheet, one row per entry
func ExportXLSX(logs []model.TrafficLog) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(exportSheet, cell, h)
	}

	for i, entry := range logs {
		row := i + 2
		values := []any{
			entry.ID,
			entry.Timestamp.UTC().Format(time.RFC3339Nano),
			entry.SessionID,
			entry.DeviceFingerprint,
			entry.Protocol,
			entry.PortName,
			entry.Direction,
			entry.MessageID,
			len(entry.Data),
			protocol.FormatHex(entry.Data),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(exportSheet, cell, v)
		}
	}

	f.SetColWidth(exportSheet, "A", "A", 10)
	f.SetColWidth(exportSheet, "B", "I", 20)
	f.SetColWidth(exportSheet, "J", "J", 60)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return &buf, nil
}
