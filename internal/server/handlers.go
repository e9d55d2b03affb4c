package server

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/cinderfn/cinder/internal/alloc"
	"github.com/cinderfn/cinder/internal/blob"
	"github.com/cinderfn/cinder/internal/dispatch"
	"github.com/cinderfn/cinder/internal/statestore"
)

type handlers struct {
	opts Options
}

func (h *handlers) submitAllocation(c *fiber.Ctx) error {
	var a alloc.Allocation
	if err := c.BodyParser(&a); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if a.Function.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "function.name is required",
		})
	}

	accepted, err := h.opts.Dispatcher.Submit(c.Context(), a)
	if err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":         accepted.ID,
		"request_id": accepted.RequestID,
	})
}

// allocationUpdates long-polls one allocation's state. The caller
// passes the last hash it has seen; the response is the first snapshot
// whose hash differs, or the current snapshot once the wait times out.
func (h *handlers) allocationUpdates(c *fiber.Ctx) error {
	st, err := h.opts.Dispatcher.State(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown allocation",
		})
	}

	lastSeen := c.Query("hash")
	waitSeconds := h.opts.MaxLongPollSeconds
	if raw := c.Query("timeout"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "timeout must be a non-negative integer",
			})
		}
		if n < waitSeconds {
			waitSeconds = n
		}
	}

	ctx, cancel := context.WithTimeout(c.Context(), time.Duration(waitSeconds)*time.Second)
	defer cancel()

	snap, err := st.WaitForUpdate(ctx, lastSeen)
	if err != nil {
		// Timed out with no change: serve the unchanged snapshot so
		// the caller can re-poll with the same hash.
		snap = st.Snapshot()
	}
	return c.JSON(snap)
}

func (h *handlers) deleteAllocation(c *fiber.Ctx) error {
	err := h.opts.Dispatcher.Delete(c.Params("id"))
	switch {
	case errors.Is(err, dispatch.ErrUnknownAllocation):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown allocation",
		})
	case errors.Is(err, dispatch.ErrNotTerminal):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "allocation is not terminal",
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "delete failed",
		})
	}
	return c.JSON(fiber.Map{"deleted": true})
}

// readState serves the committed blob descriptor for a request-state
// key. A miss registers the reader's interest on the request's live
// allocations, so running functions see a watcher for the key.
func (h *handlers) readState(c *fiber.Ctx) error {
	// Params are backed by fasthttp's reused request buffer; clone
	// before retaining them past the handler.
	rid, key := strings.Clone(c.Params("rid")), strings.Clone(c.Params("key"))
	b, err := h.opts.States.ReadState(c.Context(), rid, key)
	if errors.Is(err, statestore.ErrNotFound) {
		watching := h.opts.Dispatcher.RegisterWatcher(rid, alloc.Watcher{ID: key, Key: key})
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":    "no committed state for key",
			"watching": watching,
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "read failed",
		})
	}
	return c.JSON(b)
}

type prepareWriteRequest struct {
	Size int64 `json:"size"`
}

// prepareWrite hands the caller a blob descriptor to write its bytes
// to, and announces the pending upload on the request's live
// allocations as an output request. Nothing becomes readable until the
// matching commit.
func (h *handlers) prepareWrite(c *fiber.Ctx) error {
	var req prepareWriteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.Size < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "size must be non-negative",
		})
	}

	rid, key := strings.Clone(c.Params("rid")), strings.Clone(c.Params("key"))
	placed, err := h.opts.Placer.Place(rid, "state-"+key, req.Size)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "placement failed",
		})
	}
	h.opts.Dispatcher.AnnounceOutputRequest(rid, alloc.OutputRequest{
		ID:   key,
		Key:  key,
		Size: req.Size,
	})
	return c.JSON(placed)
}

// commitWrite publishes a prepared write: from here on reads of the
// key serve this descriptor. The announced output request (and any
// watcher the key collected) is resolved on the request's live
// allocations, waking their long-pollers.
func (h *handlers) commitWrite(c *fiber.Ctx) error {
	var b blob.Blob
	if err := c.BodyParser(&b); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if len(b.Chunks) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "blob has no chunks",
		})
	}

	rid, key := strings.Clone(c.Params("rid")), strings.Clone(c.Params("key"))
	if err := h.opts.States.CommitState(c.Context(), rid, key, b); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "commit failed",
		})
	}
	resolved := h.opts.Dispatcher.ResolveOutputRequest(rid, key, b)
	return c.JSON(fiber.Map{
		"committed": true,
		"resolved":  len(resolved),
	})
}
