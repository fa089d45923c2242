package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/model"
	"github.com/TaskifaiDavid/taskfai-platform-v2.0-sub002/internal/vendorspec"
)

// parseInt parses a quantity cell. Vendor files use thousands separators and
// parenthesized negatives.
func parseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}

	s = strings.NewReplacer(" ", "", " ", "", ",", "").Replace(s)
	// A trailing ".0" from a float-typed cell is still an integer quantity.
	if i := strings.IndexByte(s, '.'); i >= 0 {
		frac := s[i+1:]
		if strings.Trim(frac, "0") != "" {
			return 0, false
		}
		s = s[:i]
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

// parseDecimal parses a monetary cell, tolerating "1 234,56", "1,234.56",
// currency symbols, and parenthesized negatives.
func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}

	s = strings.NewReplacer(" ", "", " ", "", "€", "", "£", "", "$", "", "zł", "").Replace(s)

	lastComma := strings.LastIndexByte(s, ',')
	lastDot := strings.LastIndexByte(s, '.')
	switch {
	case lastComma >= 0 && lastDot >= 0:
		// Whichever separator comes last is the decimal point.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else if len(s)-lastComma-1 == 3 {
			// "1,234" is a thousands separator, "12,34" a decimal comma.
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}

// dateLayouts tried for explicit date columns when the format does not pin
// one down.
var dateLayouts = []string{
	"2006-01-02", "02/01/2006", "01/02/2006", "2006/01/02",
	"02.01.2006", "2-Jan-06", "Jan 2, 2006", "2006-01-02T15:04:05Z07:00",
}

// resolveDate applies the date policy chain: explicit column, month+year,
// filename pattern, then the explicit upload-date opt-in. No source and no
// opt-in means rejection, never a silent default.
func (n *Normalizer) resolveDate(fields map[string]string, f *vendorspec.Format, uploadTime time.Time) (time.Time, model.ReasonCode) {
	if raw := fields[vendorspec.FieldDate]; raw != "" {
		if f.Date.Layout != "" {
			t, err := time.Parse(f.Date.Layout, raw)
			if err != nil {
				return time.Time{}, model.ReasonBadDate
			}
			return t.UTC(), ""
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), ""
			}
		}
		return time.Time{}, model.ReasonBadDate
	}

	if m, y := fields[vendorspec.FieldMonth], fields[vendorspec.FieldYear]; m != "" && y != "" {
		month, okM := parseInt(m)
		year, okY := parseInt(y)
		if !okM || !okY || month < 1 || month > 12 {
			return time.Time{}, model.ReasonBadDate
		}
		day := f.Date.DayOfMonth
		if day == 0 {
			day = 1
		}
		return time.Date(int(year), time.Month(month), day, 0, 0, 0, 0, time.UTC), ""
	}

	if f.Date.FilenamePattern != "" {
		if t, ok := dateFromFilename(fields[fieldFilename], f.Date.FilenamePattern); ok {
			day := f.Date.DayOfMonth
			if day == 0 {
				day = 1
			}
			if t.Day() == 1 && day != 1 {
				t = time.Date(t.Year(), t.Month(), day, 0, 0, 0, 0, time.UTC)
			}
			return t, ""
		}
		return time.Time{}, model.ReasonMissingDate
	}

	if f.Date.UseUploadDate {
		return uploadTime.UTC().Truncate(24 * time.Hour), ""
	}
	return time.Time{}, model.ReasonMissingDate
}

// fieldFilename is an internal field the pipeline injects so filename date
// patterns can resolve without the normalizer touching the filesystem.
const fieldFilename = "_filename"

// InjectFilename threads the upload's filename into raw records for formats
// that derive the sale date from it.
func InjectFilename(records []model.RawRecord, filename string) {
	for i := range records {
		if records[i].Fields == nil {
			continue
		}
		records[i].Fields[fieldFilename] = filename
	}
}

// dateFromFilename slides the Go layout across the filename until a window
// parses.
func dateFromFilename(filename, layout string) (time.Time, bool) {
	if filename == "" || layout == "" {
		return time.Time{}, false
	}
	n := len(layout)
	for i := 0; i+n <= len(filename); i++ {
		if t, err := time.Parse(layout, filename[i:i+n]); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
