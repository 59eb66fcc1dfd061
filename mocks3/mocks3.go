// Package mocks3 is an in-memory S3-compatible server for tests and local
// development. It keeps objects and multipart uploads in maps, serves real
// MD5 ETags, and can inject failures to exercise client retry behaviour.
package mocks3

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type object struct {
	data        []byte
	contentType string
	meta        map[string]string
	etag        string
	modified    time.Time
}

type upload struct {
	key         string
	contentType string
	meta        map[string]string
	parts       map[int][]byte
	etags       map[int]string
}

type fault struct {
	skip      int
	status    int
	remaining int
}

// Server is a single-bucket in-memory S3 endpoint.
type Server struct {
	bucket string
	router chi.Router

	mu      sync.Mutex
	objects map[string]*object
	uploads map[string]*upload
	faults  []fault

	// Requests records method, path and query of every request served,
	// fault-injected responses included.
	requests []string
}

// New creates a server holding one bucket.
func New(bucket string) *Server {
	s := &Server{
		bucket:  bucket,
		router:  chi.NewRouter(),
		objects: make(map[string]*object),
		uploads: make(map[string]*upload),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(s.recordRequest)
	r.Use(s.injectFaults)

	r.Get("/{bucket}", s.listObjects)
	r.Head("/{bucket}/*", s.headObject)
	r.Get("/{bucket}/*", s.getObject)
	r.Put("/{bucket}/*", s.putObject)
	r.Post("/{bucket}/*", s.postObject)
	r.Delete("/{bucket}/*", s.deleteObject)
}

// Handler returns the HTTP handler for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// FailNext makes the next n requests answer with the given status and an
// InternalError body before normal handling resumes.
func (s *Server) FailNext(status, n int) {
	s.FailAfter(0, status, n)
}

// FailAfter lets the next skip requests through, then fails the following n
// with the given status.
func (s *Server) FailAfter(skip, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, fault{skip: skip, status: status, remaining: n})
}

// Requests returns the request log.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Put seeds an object directly, bypassing HTTP.
func (s *Server) Put(key string, data []byte, meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = newObject(data, "binary/octet-stream", meta)
}

// Object returns a stored object's bytes, or nil if absent.
func (s *Server) Object(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[key]; ok {
		return append(make([]byte, 0, len(obj.data)), obj.data...)
	}
	return nil
}

func newObject(data []byte, contentType string, meta map[string]string) *object {
	sum := md5.Sum(data)
	return &object{
		data:        data,
		contentType: contentType,
		meta:        meta,
		etag:        `"` + hex.EncodeToString(sum[:]) + `"`,
		modified:    time.Now().UTC(),
	}
}

func (s *Server) recordRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		line := r.Method + " " + r.URL.Path
		if r.URL.RawQuery != "" {
			line += "?" + r.URL.RawQuery
		}
		s.requests = append(s.requests, line)
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFaults(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		var status int
		if len(s.faults) > 0 {
			f := &s.faults[0]
			if f.skip > 0 {
				f.skip--
			} else {
				status = f.status
				f.remaining--
				if f.remaining <= 0 {
					s.faults = s.faults[1:]
				}
			}
		}
		s.mu.Unlock()

		if status != 0 {
			writeS3Error(w, r, status, "InternalError", "Injected failure")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Wire types mirror the subset of the S3 XML surface the server speaks.

type errorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	RequestId string   `xml:"RequestId"`
	HostId    string   `xml:"HostId"`
}

type listContents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type listCommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type listBucketResult struct {
	XMLName        xml.Name           `xml:"ListBucketResult"`
	Name           string             `xml:"Name"`
	Prefix         string             `xml:"Prefix"`
	Marker         string             `xml:"Marker"`
	NextMarker     string             `xml:"NextMarker,omitempty"`
	MaxKeys        int                `xml:"MaxKeys"`
	IsTruncated    bool               `xml:"IsTruncated"`
	Contents       []listContents     `xml:"Contents"`
	CommonPrefixes []listCommonPrefix `xml:"CommonPrefixes"`
}

type initiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadId string   `xml:"UploadId"`
}

type completePart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

type completeMultipartUpload struct {
	XMLName xml.Name       `xml:"CompleteMultipartUpload"`
	Parts   []completePart `xml:"Part"`
}

type completeMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

func writeS3Error(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	resp := errorResponse{
		Code:      code,
		Message:   message,
		RequestId: uuid.NewString(),
		HostId:    r.Host,
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(statusCode)
	xml.NewEncoder(w).Encode(resp)
}

func writeXML(w http.ResponseWriter, statusCode int, v interface{}) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(statusCode)
	return xml.NewEncoder(w).Encode(v)
}

func (s *Server) checkBucket(w http.ResponseWriter, r *http.Request) bool {
	if chi.URLParam(r, "bucket") != s.bucket {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
		return false
	}
	return true
}

func metaFromRequest(r *http.Request) map[string]string {
	meta := make(map[string]string)
	for name, vals := range r.Header {
		if strings.HasPrefix(name, "X-Amz-Meta-") {
			meta[strings.TrimPrefix(name, "X-Amz-Meta-")] = vals[0]
		}
	}
	return meta
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	if !s.checkBucket(w, r) {
		return
	}

	query := r.URL.Query()
	prefix := query.Get("prefix")
	delimiter := query.Get("delimiter")
	marker := query.Get("marker")

	maxKeys := 1000
	if v := query.Get("max-keys"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxKeys = n
		}
	}

	s.mu.Lock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := listBucketResult{
		Name:    s.bucket,
		Prefix:  prefix,
		Marker:  marker,
		MaxKeys: maxKeys,
	}

	seenPrefixes := make(map[string]bool)
	count := 0

	for _, key := range keys {
		if key <= marker || !strings.HasPrefix(key, prefix) {
			continue
		}
		if count >= maxKeys {
			result.IsTruncated = true
			break
		}

		// A delimiter groups keys sharing the segment between the prefix
		// and the next delimiter occurrence into one common prefix.
		if delimiter != "" {
			rest := strings.TrimPrefix(key, prefix)
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				common := prefix + rest[:idx+len(delimiter)]
				if !seenPrefixes[common] {
					seenPrefixes[common] = true
					result.CommonPrefixes = append(result.CommonPrefixes, listCommonPrefix{Prefix: common})
					count++
				}
				continue
			}
		}

		obj := s.objects[key]
		result.Contents = append(result.Contents, listContents{
			Key:          key,
			LastModified: obj.modified.Format(time.RFC3339),
			ETag:         obj.etag,
			Size:         int64(len(obj.data)),
			StorageClass: "STANDARD",
		})
		count++
	}
	s.mu.Unlock()

	writeXML(w, http.StatusOK, result)
}

func (s *Server) writeObjectHeaders(w http.ResponseWriter, obj *object) {
	w.Header().Set("Content-Type", obj.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
	w.Header().Set("ETag", obj.etag)
	w.Header().Set("Last-Modified", obj.modified.Format(http.TimeFormat))
	for name, value := range obj.meta {
		w.Header().Set("X-Amz-Meta-"+name, value)
	}
}

func (s *Server) headObject(w http.ResponseWriter, r *http.Request) {
	if !s.checkBucket(w, r) {
		return
	}
	key := chi.URLParam(r, "*")

	s.mu.Lock()
	obj, ok := s.objects[key]
	s.mu.Unlock()

	if !ok {
		// HEAD responses carry no body.
		w.WriteHeader(http.StatusNotFound)
		return
	}

	s.writeObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	if !s.checkBucket(w, r) {
		return
	}
	key := chi.URLParam(r, "*")

	s.mu.Lock()
	obj, ok := s.objects[key]
	s.mu.Unlock()

	if !ok {
		writeS3Error(w, r, http.StatusNotFound, "NoSuchKey", "The specified key does not exist")
		return
	}

	s.writeObjectHeaders(w, obj)
	w.WriteHeader(http.StatusOK)
	w.Write(obj.data)
}

func (s *Server) putObject(w http.ResponseWriter, r *http.Request) {
	if !s.checkBucket(w, r) {
		return
	}
	key := chi.URLParam(r, "*")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, r, http.StatusInternalServerError, "InternalError", "Failed to read request body")
		return
	}

	// Multipart part upload
	if partNum := r.URL.Query().Get("partNumber"); partNum != "" {
		uploadID := r.URL.Query().Get("uploadId")
		partNumber, err := strconv.Atoi(partNum)
		if err != nil || partNumber < 1 {
			writeS3Error(w, r, http.StatusBadRequest, "InvalidArgument", "Invalid part number")
			return
		}

		s.mu.Lock()
		up, ok := s.uploads[uploadID]
		if !ok {
			s.mu.Unlock()
			writeS3Error(w, r, http.StatusNotFound, "NoSuchUpload", "The specified upload does not exist")
			return
		}
		sum := md5.Sum(body)
		etag := `"` + hex.EncodeToString(sum[:]) + `"`
		up.parts[partNumber] = body
		up.etags[partNumber] = etag
		s.mu.Unlock()

		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "binary/octet-stream"
	}

	obj := newObject(body, contentType, metaFromRequest(r))

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()

	w.Header().Set("ETag", obj.etag)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) postObject(w http.ResponseWriter, r *http.Request) {
	if !s.checkBucket(w, r) {
		return
	}
	key := chi.URLParam(r, "*")

	if _, ok := r.URL.Query()["uploads"]; ok {
		uploadID := uuid.NewString()

		s.mu.Lock()
		s.uploads[uploadID] = &upload{
			key:         key,
			contentType: r.Header.Get("Content-Type"),
			meta:        metaFromRequest(r),
			parts:       make(map[int][]byte),
			etags:       make(map[int]string),
		}
		s.mu.Unlock()

		writeXML(w, http.StatusOK, initiateMultipartUploadResult{
			Bucket:   s.bucket,
			Key:      key,
			UploadId: uploadID,
		})
		return
	}

	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		writeS3Error(w, r, http.StatusBadRequest, "InvalidRequest", "Missing uploadId")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeS3Error(w, r, http.StatusInternalServerError, "InternalError", "Failed to read request body")
		return
	}

	var manifest completeMultipartUpload
	if err := xml.Unmarshal(body, &manifest); err != nil {
		writeS3Error(w, r, http.StatusBadRequest, "MalformedXML", "Invalid completion manifest")
		return
	}

	s.mu.Lock()
	up, ok := s.uploads[uploadID]
	if !ok {
		s.mu.Unlock()
		writeS3Error(w, r, http.StatusNotFound, "NoSuchUpload", "The specified upload does not exist")
		return
	}

	var data []byte
	for _, p := range manifest.Parts {
		part, ok := up.parts[p.PartNumber]
		if !ok || up.etags[p.PartNumber] != p.ETag {
			s.mu.Unlock()
			writeS3Error(w, r, http.StatusBadRequest, "InvalidPart", "One or more of the specified parts could not be found")
			return
		}
		data = append(data, part...)
	}

	contentType := up.contentType
	if contentType == "" {
		contentType = "binary/octet-stream"
	}
	obj := newObject(data, contentType, up.meta)
	s.objects[up.key] = obj
	delete(s.uploads, uploadID)
	s.mu.Unlock()

	writeXML(w, http.StatusOK, completeMultipartUploadResult{
		Location: fmt.Sprintf("http://%s/%s/%s", r.Host, s.bucket, key),
		Bucket:   s.bucket,
		Key:      key,
		ETag:     obj.etag,
	})
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	if !s.checkBucket(w, r) {
		return
	}
	key := chi.URLParam(r, "*")

	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}
