package backup

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
)

// HeaderVariables are the server variables recorded at the top of every dump.
var HeaderVariables = []string{
	"character_set_server",
	"character_set_database",
	"character_set_client",
	"collation_server",
	"collation_database",
	"innodb_file_format",
	"innodb_large_prefix",
	"innodb_file_per_table",
	"innodb_strict_mode",
	"sql_mode",
}

const (
	headerStart   = "/* START DATABASE PARAMETERS\n"
	headerEnd     = "END DATABASE PARAMETERS */\n\n"
	headerReadLen = 4096
)

var headerPattern = regexp.MustCompile(`(?s)/\* START DATABASE PARAMETERS\n(.*?)\nEND DATABASE PARAMETERS \*/`)

// WriteHeader writes the parameter comment block.
func WriteHeader(w io.Writer, vars map[string]string) error {
	if _, err := io.WriteString(w, headerStart); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(vars); err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	_, err := io.WriteString(w, headerEnd)
	return err
}

// ParseHeader extracts the parameter block from the start of a dump.
// Content without a block yields an empty map.
func ParseHeader(content []byte) (map[string]string, error) {
	vars := map[string]string{}
	m := headerPattern.FindSubmatch(content)
	if m == nil {
		return vars, nil
	}
	if err := json.Unmarshal(m[1], &vars); err != nil {
		return map[string]string{}, fmt.Errorf("malformed parameter header: %w", err)
	}
	return vars, nil
}

// ReadHeader reads the parameter block of a plain, gzip, zstd or lz4 dump.
func ReadHeader(path string) (map[string]string, error) {
	rc, err := OpenDecoded(path)
	if err != nil {
		return map[string]string{}, err
	}
	defer rc.Close()

	buf, err := io.ReadAll(io.LimitReader(rc, headerReadLen))
	if err != nil && len(buf) == 0 {
		return map[string]string{}, err
	}
	return ParseHeader(buf)
}
