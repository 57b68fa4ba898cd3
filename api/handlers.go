package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskpilot-api/domain"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, board Board, subs Subscriptions, logger *log.Logger, allowedOrigins []string) {
	e.GET("/", welcome)
	e.GET("/healthz", healthz)

	e.GET("/users", getUsers(board))
	e.POST("/users", postUsers(board, logger))

	e.GET("/tasks", getTasks(board, logger))
	e.POST("/tasks", postTask(board, logger))
	e.PUT("/tasks/:id", putTask(board, logger))
	e.DELETE("/tasks/:id", deleteTask(board, logger))

	e.GET("/events", streamEvents(subs))
	e.GET("/ws", streamWebsocket(subs, logger, allowedOrigins))
}

func welcome(c echo.Context) error {
	return c.String(http.StatusOK, "Welcome to the server!")
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func getUsers(board Board) echo.HandlerFunc {
	return func(c echo.Context) error {
		users, err := board.ListUsers(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return c.JSON(http.StatusInternalServerError, messageResponse{Message: "Failed to fetch users", Error: err.Error()})
		}
		return c.JSON(http.StatusOK, users)
	}
}

func postUsers(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/users")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() { metrics.Log(c.Response().Status, err) }()

		var user domain.User
		decodeStart := time.Now()
		decodeErr := decodeBody(c, &user)
		metrics.ObserveDecode(time.Since(decodeStart))
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid body"})
			return err
		}

		persistStart := time.Now()
		stored, created, storeErr := board.CreateUser(ctx, user)
		metrics.ObservePersist(time.Since(persistStart))
		if storeErr != nil {
			if errors.Is(storeErr, domain.ErrInvalidUser) {
				metrics.SetErrorStage("validate")
				err = c.JSON(http.StatusBadRequest, messageResponse{Message: "Missing uid"})
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(storeErr)
			err = c.JSON(http.StatusInternalServerError, messageResponse{Message: "Failed to save user", Error: storeErr.Error()})
			return err
		}
		if !created {
			err = c.JSON(http.StatusOK, userExistsResponse{Message: "User already exists", User: stored})
			return err
		}
		err = c.JSON(http.StatusCreated, userCreatedResponse{Message: "User created successfully", Result: stored})
		return err
	}
}

func getTasks(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/tasks")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() { metrics.Log(c.Response().Status, err) }()

		fetchStart := time.Now()
		tasks, fetchErr := board.ListTasks(ctx)
		metrics.ObservePersist(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.JSON(http.StatusInternalServerError, messageResponse{Message: "Failed to fetch tasks", Error: fetchErr.Error()})
			return err
		}
		err = c.JSON(http.StatusOK, tasks)
		return err
	}
}

func postTask(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/tasks")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() { metrics.Log(c.Response().Status, err) }()

		var draft domain.TaskDraft
		decodeStart := time.Now()
		decodeErr := decodeBody(c, &draft)
		metrics.ObserveDecode(time.Since(decodeStart))
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid body"})
			return err
		}

		persistStart := time.Now()
		task, createErr := board.CreateTask(ctx, draft)
		metrics.ObservePersist(time.Since(persistStart))
		if createErr != nil {
			if errors.Is(createErr, domain.ErrInvalidTask) {
				metrics.SetErrorStage("validate")
				err = c.JSON(http.StatusBadRequest, messageResponse{Message: "Missing category"})
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(createErr)
			err = c.JSON(http.StatusInternalServerError, messageResponse{Message: "Failed to save task", Error: createErr.Error()})
			return err
		}
		err = c.JSON(http.StatusCreated, task)
		return err
	}
}

func putTask(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/tasks/:id")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() { metrics.Log(c.Response().Status, err) }()

		var patch domain.TaskPatch
		decodeStart := time.Now()
		decodeErr := decodeBody(c, &patch)
		metrics.ObserveDecode(time.Since(decodeStart))
		if decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.JSON(http.StatusBadRequest, messageResponse{Message: "invalid body"})
			return err
		}

		persistStart := time.Now()
		task, updateErr := board.UpdateTask(ctx, c.Param("id"), patch)
		metrics.ObservePersist(time.Since(persistStart))
		if updateErr != nil {
			if errors.Is(updateErr, domain.ErrTaskNotFound) {
				metrics.SetErrorStage("not_found")
				err = c.JSON(http.StatusNotFound, messageResponse{Message: "Task not found"})
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(updateErr)
			err = c.JSON(http.StatusInternalServerError, messageResponse{Message: "Failed to update task", Error: updateErr.Error()})
			return err
		}
		err = c.JSON(http.StatusOK, task)
		return err
	}
}

func deleteTask(board Board, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMutationMetrics(ctx, logger, "/tasks/:id")
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() { metrics.Log(c.Response().Status, err) }()

		persistStart := time.Now()
		deleteErr := board.DeleteTask(ctx, c.Param("id"))
		metrics.ObservePersist(time.Since(persistStart))
		if deleteErr != nil {
			if errors.Is(deleteErr, domain.ErrTaskNotFound) {
				metrics.SetErrorStage("not_found")
				err = c.JSON(http.StatusNotFound, messageResponse{Message: "Task not found"})
				return err
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(deleteErr)
			err = c.JSON(http.StatusInternalServerError, messageResponse{Message: "Failed to delete task", Error: deleteErr.Error()})
			return err
		}
		err = c.JSON(http.StatusOK, taskDeletedResponse{Message: "Task deleted successfully", DeletedCount: 1})
		return err
	}
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, mutationMaxBodySize)
	return sonic.ConfigStd.NewDecoder(lr).Decode(v)
}
