package skrumble

import (
	"path"
	"strings"
)

type mimeEntry struct {
	ext      string
	mimetype string
}

// mimeTable maps extensions to the mimetypes the upload service reports.
// Several extensions share a mimetype; the last match wins.
var mimeTable = []mimeEntry{
	{"ai", "application/postscript"},
	{"au", "audio/basic"},
	{"avi", "video/x-msvideo"},
	{"bat", "text/plain"},
	{"bmp", "image/x-ms-bmp"},
	{"c", "text/plain"},
	{"css", "text/css"},
	{"doc", "application/msword"},
	{"dot", "application/msword"},
	{"eps", "application/postscript"},
	{"gif", "image/gif"},
	{"h", "text/plain"},
	{"htm", "text/html"},
	{"html", "text/html"},
	{"jpeg", "image/jpeg"},
	{"js", "application/x-javascript"},
	{"json", "application/json"},
	{"mov", "video/quicktime"},
	{"movie", "video/x-sgi-movie"},
	{"mp2", "audio/mpeg"},
	{"mp3", "audio/mpeg"},
	{"mp4", "video/mp4"},
	{"mpeg", "video/mpeg"},
	{"numbers", "application/octet-stream"},
	{"pdf", "application/pdf"},
	{"png", "image/png"},
	{"pot", "application/vnd.ms-powerpoint"},
	{"ppa", "application/vnd.ms-powerpoint"},
	{"ppm", "image/x-portable-pixmap"},
	{"pps", "application/vnd.ms-powerpoint"},
	{"ppt", "application/vnd.ms-powerpoint"},
	{"pptx", "application/vnd.ms-powerpoint"},
	{"ps", "application/postscript"},
	{"pwz", "application/vnd.ms-powerpoint"},
	{"py", "text/x-python"},
	{"pyc", "application/x-python-code"},
	{"pyo", "application/x-python-code"},
	{"qt", "video/quicktime"},
	{"tif", "image/tiff"},
	{"txt", "text/plain"},
	{"vcf", "text/x-vcard"},
	{"wav", "audio/x-wav"},
	{"wiz", "application/msword"},
	{"wsdl", "application/xml"},
	{"xbm", "image/x-xbitmap"},
	{"xlb", "application/vnd.ms-excel"},
	{"xls", "application/vnd.ms-excel"},
	{"xlsx", "application/vnd.ms-excel"},
	{"xml", "text/xml"},
	{"xpdl", "application/xml"},
	{"xpm", "image/x-xpixmap"},
	{"xsl", "application/xml"},
	{"zip", "application/zip"},
}

const xlsxMimetype = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// fileExtension picks the extension for an upload: the mimetype table
// first, the filename's own extension otherwise.
func fileExtension(filename, mimetype string) string {
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	for _, e := range mimeTable {
		if e.mimetype == mimetype {
			ext = e.ext
		}
	}
	if mimetype == xlsxMimetype {
		ext = "xlsx"
	}
	return ext
}
