// Package httpapi wires the HTTP query surface: one route per query shape
// (channel-day, user-day, user-month), each able to render raw, text, or
// json per the ?type= query parameter.
package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chatlogd/chatlogd"
)

// Server exposes the HTTP surface over a chatlogd.Reader.
type Server struct {
	reader *chatlogd.Reader
	logger chatlogd.Logger
	engine *gin.Engine
}

// New builds a Server. logger may be nil, in which case query and marshal
// errors are not logged. No per-request access log is emitted either way.
func New(reader *chatlogd.Reader, logger chatlogd.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{reader: reader, logger: logger, engine: gin.New()}
	s.engine.Use(requestID(), gin.Recovery())

	s.engine.GET("/channel/:channel/:year/:month/:day", s.handleChannelDay)
	s.engine.GET("/channel/:channel/:year/:month/:day/user/:user", s.handleUserDay)
	s.engine.GET("/channel/:channel/:year/:month/user/:user", s.handleUserMonth)

	return s
}

// Handler returns the http.Handler to mount, e.g. with http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// requestID stamps every request with a correlation id using
// github.com/google/uuid, surfaced in the response header for callers and
// log lines that want to cross-reference a single request.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Writer.Header().Set("X-Request-Id", id)
		c.Set("request_id", id)
		c.Next()
	}
}

func (s *Server) handleChannelDay(c *gin.Context) {
	channel := c.Param("channel")
	year, month, day, ok := parseYMD(c)
	if !ok {
		return
	}

	result, err := s.reader.ReadChannelDay(channel, year, month, day, reverseParam(c), formatParam(c))
	s.respond(c, result, err)
}

func (s *Server) handleUserDay(c *gin.Context) {
	channel := c.Param("channel")
	user := c.Param("user")
	year, month, day, ok := parseYMD(c)
	if !ok {
		return
	}

	result, err := s.reader.ReadUserDay(channel, user, year, month, day, reverseParam(c), formatParam(c))
	s.respond(c, result, err)
}

func (s *Server) handleUserMonth(c *gin.Context) {
	channel := c.Param("channel")
	user := c.Param("user")
	year, month, ok := parseYM(c)
	if !ok {
		return
	}

	result, err := s.reader.ReadUserMonth(channel, user, year, month, reverseParam(c), formatParam(c))
	s.respond(c, result, err)
}

func (s *Server) respond(c *gin.Context, result chatlogd.QueryResult, err error) {
	if err != nil {
		if errors.Is(err, chatlogd.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if s.logger != nil {
			s.logger.Printf("query error: %v", err)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	switch formatParam(c) {
	case chatlogd.FormatJSON:
		body, err := chatlogd.MarshalMessages(result.Messages)
		if err != nil {
			if s.logger != nil {
				s.logger.Printf("marshal response: %v", err)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", body)
	default:
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(joinLines(result.Lines)))
	}
}

func joinLines(lines []string) string {
	out := make([]byte, 0, 256)
	for i, l := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, l...)
	}
	return string(out)
}

func reverseParam(c *gin.Context) bool {
	return c.Query("reverse") == "1" || c.Query("reverse") == "true"
}

func formatParam(c *gin.Context) chatlogd.Format {
	switch c.Query("type") {
	case "raw":
		return chatlogd.FormatRaw
	case "json":
		return chatlogd.FormatJSON
	default:
		return chatlogd.FormatText
	}
}

func parseYMD(c *gin.Context) (year, month, day int, ok bool) {
	year, month, ok = parseYM(c)
	if !ok {
		return 0, 0, 0, false
	}
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid day"})
		return 0, 0, 0, false
	}
	return year, month, day, true
}

func parseYM(c *gin.Context) (year, month int, ok bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return 0, 0, false
	}
	month, err = strconv.Atoi(c.Param("month"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid month"})
		return 0, 0, false
	}
	return year, month, true
}
