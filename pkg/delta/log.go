// Package delta resolves the current snapshot of a Delta table by replaying
// the JSON commit log. Files superseded by later commits are excluded from
// the active set; stale files must never contribute to aggregated statistics.
package delta

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/footer"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/storage"
)

// LogDirName marks a directory as a Delta table.
const LogDirName = "_delta_log"

var commitFileRe = regexp.MustCompile(`^(\d{20})\.json$`)

// AddFile is one active data file in a snapshot.
type AddFile struct {
	Path            string            `json:"path"`
	Size            int64             `json:"size"`
	PartitionValues map[string]string `json:"partitionValues"`
	Stats           string            `json:"stats"`
}

// Snapshot is the point-in-time-consistent active file set of a Delta table.
type Snapshot struct {
	Version          int64
	Files            []AddFile
	Schema           models.SchemaInfo
	PartitionColumns []string
}

type action struct {
	Add      *AddFile `json:"add"`
	Remove   *AddFile `json:"remove"`
	MetaData *struct {
		SchemaString     string   `json:"schemaString"`
		PartitionColumns []string `json:"partitionColumns"`
	} `json:"metaData"`
}

// CurrentSnapshot replays every commit of tableRoot/_delta_log in version
// order and returns the resulting active file set. Parquet checkpoints are
// not consulted; the JSON commits are authoritative for the tables we serve.
func CurrentSnapshot(ctx context.Context, store storage.ObjectStore, tableRoot string) (*Snapshot, error) {
	logDir := joinPath(tableRoot, LogDirName)
	refs, err := store.List(ctx, logDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeObjectNotFound, "failed to list delta log").WithPath(tableRoot)
	}

	type commit struct {
		version int64
		path    string
	}
	var commits []commit
	for _, ref := range refs {
		m := commitFileRe.FindStringSubmatch(path.Base(ref.Path))
		if m == nil {
			continue
		}
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		commits = append(commits, commit{version: v, path: ref.Path})
	}
	if len(commits) == 0 {
		return nil, errors.New(errors.ErrorTypeObjectNotFound, "no delta commits found").WithPath(tableRoot)
	}
	sort.Slice(commits, func(i, j int) bool { return commits[i].version < commits[j].version })

	snap := &Snapshot{Version: commits[len(commits)-1].version}
	active := make(map[string]AddFile)

	for _, c := range commits {
		data, err := store.ReadAll(ctx, c.path)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read delta commit").WithPath(c.path)
		}
		if err := applyCommit(data, active, snap); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal,
				fmt.Sprintf("failed to replay delta commit %d", c.version)).WithPath(c.path)
		}
	}

	snap.Files = make([]AddFile, 0, len(active))
	for _, f := range active {
		snap.Files = append(snap.Files, f)
	}
	sort.Slice(snap.Files, func(i, j int) bool { return snap.Files[i].Path < snap.Files[j].Path })

	return snap, nil
}

// applyCommit folds one commit's actions into the active set.
func applyCommit(data []byte, active map[string]AddFile, snap *Snapshot) error {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var a action
		if err := json.Unmarshal(line, &a); err != nil {
			return fmt.Errorf("malformed action: %w", err)
		}
		switch {
		case a.Add != nil:
			active[a.Add.Path] = *a.Add
		case a.Remove != nil:
			delete(active, a.Remove.Path)
		case a.MetaData != nil:
			schema, err := parseSchemaString(a.MetaData.SchemaString)
			if err != nil {
				return err
			}
			snap.Schema = schema
			snap.PartitionColumns = a.MetaData.PartitionColumns
		}
	}
	return nil
}

// FileStats converts the snapshot's embedded per-file statistics into the
// aggregator's input form. Files without a usable stats blob contribute
// unknowns and zero rows, so the warning discloses that the aggregate row
// count is a lower bound.
func (s *Snapshot) FileStats() ([]footer.FileStats, []string) {
	out := make([]footer.FileStats, 0, len(s.Files))
	missing := 0
	for _, f := range s.Files {
		fs := footer.FileStats{Path: f.Path, Columns: make(map[string]footer.ColumnFooter)}
		if parsed, err := parseFileStats(f.Stats); err == nil {
			fs.RowCount = parsed.RowCount
			fs.Columns = parsed.Columns
		} else {
			missing++
		}
		out = append(out, fs)
	}

	var warnings []string
	if missing > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"%d of %d active files carry no embedded statistics; row count is a lower bound", missing, len(s.Files)))
	}
	return out, warnings
}

// DistinctPartitionValues counts unique values per partition column across
// the active files. Exact by construction: partition values are part of each
// file's identity.
func (s *Snapshot) DistinctPartitionValues() map[string]int64 {
	sets := make(map[string]map[string]struct{}, len(s.PartitionColumns))
	for _, col := range s.PartitionColumns {
		sets[col] = make(map[string]struct{})
	}
	for _, f := range s.Files {
		for col, v := range f.PartitionValues {
			if set, ok := sets[col]; ok {
				set[v] = struct{}{}
			}
		}
	}
	out := make(map[string]int64, len(sets))
	for col, set := range sets {
		out[col] = int64(len(set))
	}
	return out
}

type deltaStats struct {
	NumRecords int64                      `json:"numRecords"`
	MinValues  map[string]json.RawMessage `json:"minValues"`
	MaxValues  map[string]json.RawMessage `json:"maxValues"`
	NullCount  map[string]int64           `json:"nullCount"`
}

func parseFileStats(raw string) (footer.FileStats, error) {
	var ds deltaStats
	if err := json.Unmarshal([]byte(raw), &ds); err != nil {
		return footer.FileStats{}, err
	}

	fs := footer.FileStats{RowCount: ds.NumRecords, Columns: make(map[string]footer.ColumnFooter)}

	names := make(map[string]struct{})
	for n := range ds.MinValues {
		names[n] = struct{}{}
	}
	for n := range ds.MaxValues {
		names[n] = struct{}{}
	}
	for n := range ds.NullCount {
		names[n] = struct{}{}
	}

	for name := range names {
		cf := footer.ColumnFooter{Column: name}
		if v, ok := ds.MinValues[name]; ok {
			if s := rawToNative(v); s != nil {
				cf.Min = s
			}
		}
		if v, ok := ds.MaxValues[name]; ok {
			if s := rawToNative(v); s != nil {
				cf.Max = s
			}
		}
		if n, ok := ds.NullCount[name]; ok {
			cf.NullCount = models.Int64Ptr(n)
		}
		fs.Columns[name] = cf
	}

	return fs, nil
}

// rawToNative renders a JSON scalar as its native string representation.
func rawToNative(raw json.RawMessage) *string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil
		}
		return &s
	}
	s := string(trimmed)
	return &s
}

type sparkField struct {
	Name     string          `json:"name"`
	Type     json.RawMessage `json:"type"`
	Nullable bool            `json:"nullable"`
}

type sparkStruct struct {
	Fields []sparkField `json:"fields"`
}

// parseSchemaString maps a Spark schema JSON string to SchemaInfo.
func parseSchemaString(raw string) (models.SchemaInfo, error) {
	if raw == "" {
		return models.SchemaInfo{}, nil
	}
	var st sparkStruct
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return models.SchemaInfo{}, fmt.Errorf("malformed delta schema string: %w", err)
	}

	info := models.SchemaInfo{Columns: make([]models.Column, 0, len(st.Fields))}
	for _, f := range st.Fields {
		native, dt := sparkType(f.Type)
		info.Columns = append(info.Columns, models.Column{
			Name:       f.Name,
			Type:       dt,
			Nullable:   f.Nullable,
			NativeType: native,
		})
	}
	return info, nil
}

// sparkType maps a Spark type node (scalar name or nested object) to the
// coarse vocabulary.
func sparkType(raw json.RawMessage) (string, models.DataType) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return "struct", models.DataTypeStruct
	}

	var name string
	if err := json.Unmarshal(trimmed, &name); err != nil {
		return string(trimmed), models.DataTypeUnknown
	}

	switch {
	case name == "byte" || name == "short" || name == "integer" || name == "long":
		return name, models.DataTypeInteger
	case name == "float" || name == "double":
		return name, models.DataTypeFloat
	case strings.HasPrefix(name, "decimal"):
		return name, models.DataTypeDecimal
	case name == "string":
		return name, models.DataTypeString
	case name == "boolean":
		return name, models.DataTypeBoolean
	case name == "date":
		return name, models.DataTypeDate
	case name == "timestamp" || name == "timestamp_ntz":
		return name, models.DataTypeTimestamp
	case name == "binary":
		return name, models.DataTypeBinary
	default:
		return name, models.DataTypeUnknown
	}
}

// joinPath joins path components without collapsing URL schemes.
func joinPath(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		cleaned = append(cleaned, strings.Trim(p, "/"))
	}
	joined := strings.Join(cleaned, "/")
	if strings.HasPrefix(parts[0], "/") && !strings.Contains(parts[0], "://") {
		return "/" + joined
	}
	return joined
}
