// Package api exposes the task service over HTTP. Handlers decode and
// validate request DTOs, call service.TaskService and map the service's
// error taxonomy onto status codes. No business rule lives here.
package api
