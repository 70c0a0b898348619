// Package csvio reads and writes the household directory CSV format.
package csvio

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

const (
	ColName          = "HouseholdName"
	ColLatitude      = "Latitude"
	ColLongitude     = "Longitude"
	ColAddress       = "Address"
	ColIsIsolated    = "IsIsolated"
	ColSpecialNeeds  = "SpecialNeeds"
	ColMedical       = "MedicalSkills"
	ColRecovery      = "RecoverySkills"
	ColEquipment     = "RecoveryEquipment"
	ColCommunication = "CommunicationSkillsAndEquipment"
	ColRegion        = "CommunicationsRegionName"
	ColCluster       = "CommunicationsClusterId"
)

// Columns is the export column order.
var Columns = []string{
	ColName,
	ColLatitude,
	ColLongitude,
	ColAddress,
	ColIsIsolated,
	ColSpecialNeeds,
	ColMedical,
	ColRecovery,
	ColEquipment,
	ColCommunication,
	ColRegion,
	ColCluster,
}

var requiredColumns = []string{ColName, ColLatitude, ColLongitude}

// RowError reports a data row that could not be converted. Row counts the
// header as row 1.
type RowError struct {
	Row  int
	Name string
	Err  error
}

func (e *RowError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("row %d (%s): %v", e.Row, e.Name, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Read parses households from r. Rows without a name are skipped; rows with
// bad numbers are reported in the returned RowErrors. The error is non-nil
// only when the file itself is unusable.
func Read(r io.Reader) ([]domain.Household, []*RowError, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("csv is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, k := range requiredColumns {
		if _, ok := col[k]; !ok {
			return nil, nil, fmt.Errorf("missing required column: %s", k)
		}
	}

	var (
		out     []domain.Household
		rowErrs []*RowError
	)
	for row := 2; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, rowErrs, fmt.Errorf("failed to read row %d: %w", row, err)
		}
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		name := get(ColName)
		if name == "" {
			continue
		}
		h, err := parseRow(get)
		if err != nil {
			rowErrs = append(rowErrs, &RowError{Row: row, Name: name, Err: err})
			continue
		}
		out = append(out, h)
	}
	return out, rowErrs, nil
}

func parseRow(get func(string) string) (domain.Household, error) {
	h := domain.Household{
		Name:                            get(ColName),
		Address:                         get(ColAddress),
		SpecialNeeds:                    get(ColSpecialNeeds),
		MedicalSkills:                   get(ColMedical),
		RecoverySkills:                  get(ColRecovery),
		RecoveryEquipment:               get(ColEquipment),
		CommunicationSkillsAndEquipment: get(ColCommunication),
		RegionName:                      get(ColRegion),
	}

	var errs []error
	lat, err := parseCoordinate(ColLatitude, get(ColLatitude))
	errs = append(errs, err)
	lon, err := parseCoordinate(ColLongitude, get(ColLongitude))
	errs = append(errs, err)
	h.Lat, h.Lon = lat, lon

	if raw := get(ColCluster); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q is not an integer", ColCluster, raw))
		}
		h.ClusterID = id
	}

	// IsIsolated is not read back; isolation follows region and cluster.
	return h, errors.Join(errs...)
}

func parseCoordinate(column, raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s is required", column)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number", column, raw)
	}
	return v, nil
}

// ParseBoolean accepts true, 1, yes and y in any case.
func ParseBoolean(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "y":
		return true
	}
	return false
}

// ToExportRow renders the live values of h in Columns order.
func ToExportRow(h *domain.Household) []string {
	cluster := ""
	if h.ClusterID > 0 {
		cluster = strconv.Itoa(h.ClusterID)
	}
	return []string{
		h.Name,
		strconv.FormatFloat(h.Lat, 'f', -1, 64),
		strconv.FormatFloat(h.Lon, 'f', -1, 64),
		h.Address,
		strconv.FormatBool(h.IsIsolated()),
		h.SpecialNeeds,
		h.MedicalSkills,
		h.RecoverySkills,
		h.RecoveryEquipment,
		h.CommunicationSkillsAndEquipment,
		h.RegionName,
		cluster,
	}
}

// Write emits the header and one row per household.
func Write(w io.Writer, households []*domain.Household) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, h := range households {
		if err := cw.Write(ToExportRow(h)); err != nil {
			return fmt.Errorf("failed to write household %s: %w", h.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
