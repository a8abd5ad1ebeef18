package history

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
)

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionGzip
)

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func codec(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// PointRow is a history point in Parquet format.
type PointRow struct {
	TimestampUnix          int64   `parquet:"timestamp"`
	RunID                  string  `parquet:"run_id,zstd"`
	TotalPods              int32   `parquet:"total_pnodes"`
	PublicPods             int32   `parquet:"public_pnodes"`
	PrivatePods            int32   `parquet:"private_pnodes"`
	VantagesTotal          int32   `parquet:"vantages_total"`
	VantagesFailed         int32   `parquet:"vantages_failed"`
	TotalStorageCommitted  int64   `parquet:"total_storage_committed"`
	TotalStorageUsed       int64   `parquet:"total_storage_used"`
	AvgStorageUsagePercent float64 `parquet:"avg_storage_usage_percent"`
	AvgUptime              float64 `parquet:"avg_uptime"`
	AvgPeerCount           float64 `parquet:"avg_peer_count"`
	UptimeP50              float64 `parquet:"uptime_p50,optional"`
	UptimeP90              float64 `parquet:"uptime_p90,optional"`
	UptimeP99              float64 `parquet:"uptime_p99,optional"`
	UsageP50               float64 `parquet:"usage_p50,optional"`
	UsageP90               float64 `parquet:"usage_p90,optional"`
	UsageP99               float64 `parquet:"usage_p99,optional"`
	Appeared               int32   `parquet:"appeared"`
	Dropped                int32   `parquet:"dropped"`

	Versions map[string]int32 `parquet:"version_distribution"`
}

// NodeSampleRow is a node sample in Parquet format.
type NodeSampleRow struct {
	Address             string  `parquet:"address,zstd"`
	TimestampUnix       int64   `parquet:"timestamp"`
	Online              bool    `parquet:"online"`
	Uptime              int64   `parquet:"uptime"`
	StorageUsagePercent float64 `parquet:"storage_usage_percent"`
	PeerCount           int32   `parquet:"peer_count"`
}

// PointToRow converts a Point to a PointRow.
func PointToRow(p *Point) PointRow {
	row := PointRow{
		TimestampUnix:          p.Timestamp.Unix(),
		RunID:                  p.RunID,
		TotalPods:              int32(p.TotalPods),
		PublicPods:             int32(p.PublicPods),
		PrivatePods:            int32(p.PrivatePods),
		VantagesTotal:          int32(p.VantagesTotal),
		VantagesFailed:         int32(p.VantagesFailed),
		TotalStorageCommitted:  p.TotalStorageCommitted,
		TotalStorageUsed:       p.TotalStorageUsed,
		AvgStorageUsagePercent: p.AvgStorageUsagePercent,
		AvgUptime:              p.AvgUptime,
		AvgPeerCount:           p.AvgPeerCount,
		UptimeP50:              p.UptimeP50,
		UptimeP90:              p.UptimeP90,
		UptimeP99:              p.UptimeP99,
		UsageP50:               p.UsageP50,
		UsageP90:               p.UsageP90,
		UsageP99:               p.UsageP99,
		Versions:               make(map[string]int32, len(p.VersionDistribution)),
		Appeared:               int32(p.Appeared),
		Dropped:                int32(p.Dropped),
	}
	for k, v := range p.VersionDistribution {
		row.Versions[k] = int32(v)
	}
	return row
}

// RowToPoint converts a PointRow to a Point.
func RowToPoint(r *PointRow) Point {
	p := Point{
		Timestamp:              time.Unix(r.TimestampUnix, 0).UTC(),
		RunID:                  r.RunID,
		TotalPods:              int(r.TotalPods),
		PublicPods:             int(r.PublicPods),
		PrivatePods:            int(r.PrivatePods),
		VantagesTotal:          int(r.VantagesTotal),
		VantagesFailed:         int(r.VantagesFailed),
		TotalStorageCommitted:  r.TotalStorageCommitted,
		TotalStorageUsed:       r.TotalStorageUsed,
		AvgStorageUsagePercent: r.AvgStorageUsagePercent,
		AvgUptime:              r.AvgUptime,
		AvgPeerCount:           r.AvgPeerCount,
		UptimeP50:              r.UptimeP50,
		UptimeP90:              r.UptimeP90,
		UptimeP99:              r.UptimeP99,
		UsageP50:               r.UsageP50,
		UsageP90:               r.UsageP90,
		UsageP99:               r.UsageP99,
		VersionDistribution:    make(map[string]int, len(r.Versions)),
		Appeared:               int(r.Appeared),
		Dropped:                int(r.Dropped),
	}
	for k, v := range r.Versions {
		p.VersionDistribution[k] = int(v)
	}
	return p
}

// NodeSampleToRow converts a NodeSample to a NodeSampleRow.
func NodeSampleToRow(s *NodeSample) NodeSampleRow {
	return NodeSampleRow{
		Address:             s.Address,
		TimestampUnix:       s.Timestamp.Unix(),
		Online:              s.Online,
		Uptime:              s.Uptime,
		StorageUsagePercent: s.StorageUsagePercent,
		PeerCount:           int32(s.PeerCount),
	}
}

// RowToNodeSample converts a NodeSampleRow to a NodeSample.
func RowToNodeSample(r *NodeSampleRow) NodeSample {
	return NodeSample{
		Address:             r.Address,
		Timestamp:           time.Unix(r.TimestampUnix, 0).UTC(),
		Online:              r.Online,
		Uptime:              r.Uptime,
		StorageUsagePercent: r.StorageUsagePercent,
		PeerCount:           int(r.PeerCount),
	}
}

// =============================================================================
// Archive
// =============================================================================

// Archive writes pruned history to Parquet files under a directory.
// File names carry the prune cutoff: points_2006-01-02_15-04.parquet and
// node_samples_2006-01-02_15-04.parquet.
type Archive struct {
	dir         string
	compression CompressionType
}

// NewArchive creates an archive rooted at dir.
func NewArchive(dir string, compression CompressionType) *Archive {
	return &Archive{dir: dir, compression: compression}
}

// Dir returns the archive directory.
func (a *Archive) Dir() string {
	return a.dir
}

const archiveTimeLayout = "2006-01-02_15-04"

// PointsPath returns the file for points pruned at cutoff.
func (a *Archive) PointsPath(cutoff time.Time) string {
	return filepath.Join(a.dir, "points_"+cutoff.UTC().Format(archiveTimeLayout)+".parquet")
}

// NodeSamplesPath returns the file for node samples pruned at cutoff.
func (a *Archive) NodeSamplesPath(cutoff time.Time) string {
	return filepath.Join(a.dir, "node_samples_"+cutoff.UTC().Format(archiveTimeLayout)+".parquet")
}

// WritePoints writes points to PointsPath(cutoff). Empty input writes nothing.
func (a *Archive) WritePoints(cutoff time.Time, points []Point) (string, error) {
	if len(points) == 0 {
		return "", nil
	}
	rows := make([]PointRow, len(points))
	for i := range points {
		rows[i] = PointToRow(&points[i])
	}
	path := a.PointsPath(cutoff)
	return path, writeRows(path, rows, a.compression)
}

// WriteNodeSamples writes samples to NodeSamplesPath(cutoff).
func (a *Archive) WriteNodeSamples(cutoff time.Time, samples []NodeSample) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	rows := make([]NodeSampleRow, len(samples))
	for i := range samples {
		rows[i] = NodeSampleToRow(&samples[i])
	}
	path := a.NodeSamplesPath(cutoff)
	return path, writeRows(path, rows, a.compression)
}

func writeRows[T any](path string, rows []T, ct CompressionType) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	writer := parquet.NewGenericWriter[T](f, parquet.Compression(codec(ct)))
	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return f.Close()
}

// ReadPoints reads an archived points file.
func ReadPoints(path string) ([]Point, error) {
	rows, err := readRows[PointRow](path)
	if err != nil {
		return nil, err
	}
	out := make([]Point, len(rows))
	for i := range rows {
		out[i] = RowToPoint(&rows[i])
	}
	return out, nil
}

// ReadNodeSamples reads an archived node samples file.
func ReadNodeSamples(path string) ([]NodeSample, error) {
	rows, err := readRows[NodeSampleRow](path)
	if err != nil {
		return nil, err
	}
	out := make([]NodeSample, len(rows))
	for i := range rows {
		out[i] = RowToNodeSample(&rows[i])
	}
	return out, nil
}

func readRows[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[T](f)
	defer reader.Close()

	rows := make([]T, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && n != len(rows) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}
