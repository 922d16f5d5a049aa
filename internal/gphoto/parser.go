package gphoto

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var (
	autoDetectPattern = regexp.MustCompile(`^(.+?)\W*usb:(\d{3}),(\d{3})`)
	folderPattern     = regexp.MustCompile(`^There (?:is|are) (?:\d+|no) files? in folder '([^']+)'`)
	filePattern       = regexp.MustCompile(`^#(\d+)\W+([\w.\-]+)\W+(\w+)\W+(\d+)\W+KB\W+(.+)$`)
)

var imageExtensions = []string{
	"png", "jpg", "jpeg", "gif", "3fr", "ari", "arw", "bay", "braw", "cri", "crw", "cap",
	"dcs", "dng", "erf", "fff", "gpr", "jxs", "mef", "mdc", "mos", "mrw", "nef", "orf",
	"pef", "pxn", "r3d", "raf", "raw", "rwz", "srw", "tco", "x3f",
}

var videoExtensions = []string{
	"webm", "mkv", "flv", "vob", "ogv", "ogg", "rrc", "gifv", "mng", "mov", "avi", "qt",
	"wmv", "yuv", "rm", "asf", "amv", "mp4", "m4p", "m4v", "mpg", "mp2", "mpeg", "mpe",
	"mpv", "svi", "3gp", "3g2", "mxf", "roq", "nsv", "f4v", "f4p", "f4a", "f4b", "mod",
}

var allowedExtensions = func() map[string]struct{} {
	set := make(map[string]struct{}, len(imageExtensions)+len(videoExtensions))
	for _, ext := range imageExtensions {
		set[ext] = struct{}{}
	}
	for _, ext := range videoExtensions {
		set[ext] = struct{}{}
	}
	return set
}()

// Camera is one row of the auto-detect table.
type Camera struct {
	Name string
	Bus  int
	Port int
}

// PortPath returns the camera's gphoto2 port address.
func (c Camera) PortPath() string {
	return PortPath(c.Bus, c.Port)
}

// File is a single media file reported by the listing.
type File struct {
	// Index is gphoto2's running file number.
	Index     int
	Folder    string
	Name      string
	Path      string
	SizeKB    int64
	Flags     string
	MediaType string
	Timestamp int64
}

// PortPath formats a bus/port pair as usb:BBB,PPP.
func PortPath(bus, port int) string {
	return fmt.Sprintf("usb:%03d,%03d", bus, port)
}

// IsAllowedExtension reports whether a file name carries an image or video
// extension. The comparison is case-insensitive.
func IsAllowedExtension(name string) bool {
	ext := strings.TrimPrefix(path.Ext(name), ".")
	if ext == "" {
		return false
	}
	_, ok := allowedExtensions[strings.ToLower(ext)]
	return ok
}

// ParseAutoDetect extracts cameras from gphoto2 --auto-detect output.
func ParseAutoDetect(output string) []Camera {
	var cameras []Camera
	for _, line := range strings.Split(output, "\n") {
		if camera, ok := parseAutoDetectLine(line); ok {
			cameras = append(cameras, camera)
		}
	}
	return cameras
}

func parseAutoDetectLine(line string) (Camera, bool) {
	match := autoDetectPattern.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if match == nil {
		return Camera{}, false
	}
	name := strings.TrimSpace(match[1])
	if name == "" {
		return Camera{}, false
	}
	bus, _ := strconv.Atoi(match[2])
	port, _ := strconv.Atoi(match[3])
	return Camera{Name: name, Bus: bus, Port: port}, true
}

// ParseListing extracts allowed media files from gphoto2 --list-files output.
func ParseListing(output string) []File {
	var parser ListingParser
	parser.Feed([]byte(output))
	parser.Flush()
	return parser.Files()
}

// ListingParser incrementally parses --list-files output. Partial lines are
// buffered until a newline arrives or Flush is called. The zero value is
// ready to use.
type ListingParser struct {
	pending []byte
	folder  string
	files   []File
}

// Feed consumes a chunk of output.
func (p *ListingParser) Feed(chunk []byte) {
	p.pending = append(p.pending, chunk...)
	for {
		idx := bytes.IndexByte(p.pending, '\n')
		if idx < 0 {
			return
		}
		p.parseLine(string(p.pending[:idx]))
		p.pending = p.pending[idx+1:]
	}
}

// Flush parses any buffered partial line.
func (p *ListingParser) Flush() {
	if len(p.pending) == 0 {
		return
	}
	p.parseLine(string(p.pending))
	p.pending = nil
}

// Files returns the files parsed so far in listing order.
func (p *ListingParser) Files() []File {
	out := make([]File, len(p.files))
	copy(out, p.files)
	return out
}

func (p *ListingParser) parseLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if match := folderPattern.FindStringSubmatch(line); match != nil {
		p.folder = match[1]
		return
	}
	match := filePattern.FindStringSubmatch(line)
	if match == nil {
		return
	}
	name := match[2]
	if !IsAllowedExtension(name) {
		return
	}
	index, _ := strconv.Atoi(match[1])
	size, err := strconv.ParseInt(match[4], 10, 64)
	if err != nil || size < 0 {
		return
	}
	mediaType, timestamp := splitTrailer(match[5])
	p.files = append(p.files, File{
		Index:     index,
		Folder:    p.folder,
		Name:      name,
		Path:      joinPath(p.folder, name),
		SizeKB:    size,
		Flags:     match[3],
		MediaType: mediaType,
		Timestamp: timestamp,
	})
}

// splitTrailer separates the free-form "<type> <timestamp>" tail. Some camera
// drivers insert image dimensions before the MIME type.
func splitTrailer(trailer string) (string, int64) {
	fields := strings.Fields(trailer)
	if len(fields) == 0 {
		return "", 0
	}
	var timestamp int64
	if ts, err := strconv.ParseInt(fields[len(fields)-1], 10, 64); err == nil && len(fields) > 1 {
		timestamp = ts
		fields = fields[:len(fields)-1]
	}
	for _, field := range fields {
		if strings.Contains(field, "/") {
			return field, timestamp
		}
	}
	return fields[0], timestamp
}

func joinPath(folder, name string) string {
	return strings.TrimSuffix(folder, "/") + "/" + name
}
