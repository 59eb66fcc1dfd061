package s3

import (
	"encoding/xml"
	"net/http"
	"time"
)

// S3 wire types. Field layout must match the service XML bit-exactly.

type ListContents struct {
	Key          string
	LastModified time.Time
	ETag         string
	Size         int64
	StorageClass string
}

type ListCommonPrefix struct {
	Prefix string
}

type ListBucketResult struct {
	XMLName        xml.Name `xml:"ListBucketResult"`
	Name           string
	Prefix         string
	Marker         string
	NextMarker     string `xml:",omitempty"`
	MaxKeys        int
	IsTruncated    bool
	Contents       []ListContents
	CommonPrefixes []ListCommonPrefix
}

type InitiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string
	Key      string
	UploadId string
}

type CompletePart struct {
	XMLName    xml.Name `xml:"Part"`
	PartNumber int
	ETag       string
}

type CompleteMultipartUpload struct {
	XMLName xml.Name       `xml:"CompleteMultipartUpload"`
	Parts   []CompletePart `xml:"Part"`
}

type CompleteMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Location string
	Bucket   string
	Key      string
	ETag     string
}

// S3ErrorResponse is the XML error body returned on non-2xx responses.
type S3ErrorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource,omitempty"`
	RequestId string   `xml:"RequestId,omitempty"`
}

// ObjectHead is the resolved header phase of a GET/HEAD response.
type ObjectHead struct {
	Status        int
	Header        http.Header
	ContentLength int64
	ContentType   string
	ETag          string
	LastModified  time.Time
}

// ObjectEntry is one key record in an aggregated listing.
type ObjectEntry struct {
	Key          string
	LastModified time.Time
	ETag         string
	Size         int64
	StorageClass string
}

// Listing is the final result of List: every key and common prefix across
// all pages, in page order, with the client key prefix stripped.
type Listing struct {
	Keys           []ObjectEntry
	CommonPrefixes []string
}

// PutResult is returned by Put for both single and multipart uploads.
type PutResult struct {
	ETag         string
	BytesWritten int64
}

func headFromResponse(resp *http.Response) ObjectHead {
	head := ObjectHead{
		Status:        resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		ETag:          resp.Header.Get("ETag"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			head.LastModified = t
		}
	}
	return head
}
