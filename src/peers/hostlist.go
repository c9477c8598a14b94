package peers

import (
	"bufio"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Hostlist persists peer records in a flat text file, one record per line:
//
//	class  scheme  host  port  last_seen  failures  source
//
// Fields are separated by tabs, last_seen is a unix timestamp in seconds and
// lines starting with # are comments.
type Hostlist struct {
	l    sync.Mutex
	path string
}

// NewHostlist creates a Hostlist backed by the file at path.
func NewHostlist(path string) *Hostlist {
	return &Hostlist{path: path}
}

// Path returns the path of the underlying file.
func (h *Hostlist) Path() string {
	return h.path
}

// Load reads the file. A missing file is an empty hostlist.
func (h *Hostlist) Load() ([]PeerRecord, error) {
	h.l.Lock()
	defer h.l.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []PeerRecord{}, nil
		}
		return nil, err
	}
	defer f.Close()

	res := []PeerRecord{}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rec, err := parseHostlistLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %v", h.path, lineNo, err)
		}
		res = append(res, rec)
	}

	return res, scanner.Err()
}

func parseHostlistLine(line string) (PeerRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return PeerRecord{}, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}

	class, err := ParseClass(fields[0])
	if err != nil {
		return PeerRecord{}, err
	}

	host := fields[2]
	// IPv6 hosts are stored without brackets
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	raw := fmt.Sprintf("%s://%s", fields[1], host)
	if fields[3] != "0" {
		raw = fmt.Sprintf("%s:%s", raw, fields[3])
	}

	addr, err := ParseAddr(raw)
	if err != nil {
		return PeerRecord{}, err
	}

	lastSeen, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return PeerRecord{}, fmt.Errorf("bad last_seen %q", fields[4])
	}

	failures, err := strconv.Atoi(fields[5])
	if err != nil || failures < 0 {
		return PeerRecord{}, fmt.Errorf("bad failures %q", fields[5])
	}

	source, err := ParseSource(fields[6])
	if err != nil {
		return PeerRecord{}, err
	}

	rec := PeerRecord{
		Addr:     addr,
		Class:    class,
		Source:   source,
		Failures: failures,
	}
	if lastSeen > 0 {
		rec.LastSeen = time.Unix(lastSeen, 0)
	}
	return rec, nil
}

// Save replaces the file with recs. The file is written next to its final
// location and renamed, so a crash never leaves a truncated hostlist.
func (h *Hostlist) Save(recs []PeerRecord) error {
	h.l.Lock()
	defer h.l.Unlock()

	if err := os.MkdirAll(filepath.Dir(h.path), 0700); err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("# class\tscheme\thost\tport\tlast_seen\tfailures\tsource\n")
	for _, r := range recs {
		var lastSeen int64
		if !r.LastSeen.IsZero() {
			lastSeen = r.LastSeen.Unix()
		}
		fmt.Fprintf(&sb, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.Class, r.Addr.Scheme, r.Addr.Host, r.Addr.Port, lastSeen, r.Failures, r.Source)
	}

	tmp := h.path + ".tmp"
	if err := ioutil.WriteFile(tmp, []byte(sb.String()), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, h.path)
}
