package httpserver

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		srv := New(":0", http.NotFoundHandler())
		assert.Equal(t, defaultWriteTimeout, srv.WriteTimeout)
		assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
	})

	t.Run("handler timeout beyond the default extends writes", func(t *testing.T) {
		srv := New(":0", http.NotFoundHandler(), WithHandlerTimeout(45*time.Second))
		assert.Equal(t, 55*time.Second, srv.WriteTimeout)
	})

	t.Run("short handler timeout keeps the default", func(t *testing.T) {
		srv := New(":0", http.NotFoundHandler(), WithHandlerTimeout(time.Second))
		assert.Equal(t, defaultWriteTimeout, srv.WriteTimeout)
	})
}
