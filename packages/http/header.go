package http

// Header is a single request header. Sequences of Header keep insertion order
// and may hold the same name more than once.
type Header struct {
	Name  string
	Value string
}

// defaultHeaderSeed is installed the first time a Session touches its header list.
var defaultHeaderSeed = []Header{
	{Name: "Accept-Language", Value: "zh-CN"},
	{Name: "Accept-Encoding", Value: "gzip, deflate"},
	{Name: "Accept", Value: "image/gif, image/x-xbitmap, image/jpeg, image/pjpeg, application/x-shockwave-flash," +
		" application/vnd.ms-excel, application/vnd.ms-powerpoint, application/msword, */*"},
	{Name: "User-Agent", Value: "Mozilla/4.0 (compatible; MSIE 6.0; Windows NT 5.1; SV1; InfoPath.2)"},
	{Name: "Connection", Value: "Keep-Alive"},
}

// DefaultHeaderSeed returns a copy of the headers a new Session starts with.
func DefaultHeaderSeed() []Header {
	return append([]Header(nil), defaultHeaderSeed...)
}
