package main

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-pkl-api/internal/handler"
	"github.com/noah-isme/sma-pkl-api/internal/middleware"
	"github.com/noah-isme/sma-pkl-api/internal/models"
)

type routeHandlers struct {
	internships *handler.InternshipHandler
	enrollments *handler.EnrollmentHandler
	fields      *handler.FieldHistoryHandler
	timeline    *handler.TimelineHandler
}

func registerRoutes(api *gin.RouterGroup, tokens middleware.TokenValidator, h routeHandlers) {
	api.Use(middleware.JWT(tokens))

	write := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)
	read := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleTeacher)
	readSelf := middleware.RBAC(string(models.RoleSuperAdmin), string(models.RoleAdmin), string(models.RoleTeacher), middleware.SelfAccess)

	internships := api.Group("/internships")
	internships.POST("", write, h.internships.Create)
	internships.POST("/evaluate", read, h.internships.Evaluate)
	internships.GET("/:id", read, h.internships.Get)
	internships.PATCH("/:id", write, h.internships.Update)
	internships.GET("/:id/history", read, h.internships.History)
	internships.POST("/:id/teacher", write, h.internships.ChangeTeacher)
	internships.POST("/:id/company", write, h.internships.ChangeCompany)
	internships.POST("/:id/terminate", write, h.internships.Terminate)
	internships.POST("/:id/complete", write, h.internships.Complete)
	internships.POST("/:id/reactivate", write, h.internships.Reactivate)

	students := api.Group("/students/:id")
	students.GET("/internships", readSelf, h.internships.ListForStudent)
	students.GET("/timeline", readSelf, h.timeline.Timeline)
	students.GET("/timeline/export", readSelf, h.timeline.Export)
	students.GET("/enrollments", readSelf, h.enrollments.List)
	students.GET("/enrollments/as-of", readSelf, h.enrollments.AsOf)
	students.POST("/promote", write, h.enrollments.Promote)
	students.POST("/enrollment-status", write, h.enrollments.ChangeStatus)

	history := api.Group("/history/:entityType/:entityId")
	history.POST("", write, h.fields.RecordChange)
	history.GET("/snapshot", read, h.fields.Snapshot)
	history.GET("/:field", read, h.fields.History)
	history.GET("/:field/as-of", read, h.fields.ValueAsOf)
}
