// Package mimetype implements the fixed extension -> media-type table
// from §6.3.
package mimetype

import "strings"

var table = map[string]string{
	"aac":   "audio/aac",
	"avi":   "video/x-msvideo",
	"bmp":   "image/bmp",
	"cgi":   "application/octet-stream",
	"css":   "text/css",
	"csv":   "text/csv",
	"epub":  "application/epub+zip",
	"gz":    "application/gzip",
	"gif":   "image/gif",
	"htm":   "text/html",
	"html":  "text/html",
	"ico":   "image/vnd.microsoft.icon",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"js":    "text/javascript",
	"json":  "application/json",
	"mp3":   "audio/mpeg",
	"mp4":   "video/mp4",
	"oga":   "audio/ogg",
	"png":   "image/png",
	"pdf":   "application/pdf",
	"php":   "application/x-httpd-php",
	"rtf":   "application/rtf",
	"svg":   "image/svg+xml",
	"swf":   "application/x-shockwave-flash",
	"ttf":   "font/ttf",
	"txt":   "text/plain",
	"wav":   "audio/wav",
	"weba":  "audio/webm",
	"webm":  "video/webm",
	"webp":  "image/webp",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"xhtml": "application/xhtml+xml",
	"xml":   "application/xml",
	"zip":   "application/zip",
}

// Fallback is returned for extensions not in the fixed table.
const Fallback = "application/octet-stream"

// ForPath returns the media type for path's extension, or Fallback if
// the extension is unknown or absent.
func ForPath(path string) string {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 || dot == len(path)-1 {
		return Fallback
	}
	ext := strings.ToLower(path[dot+1:])
	if mt, ok := table[ext]; ok {
		return mt
	}
	return Fallback
}
