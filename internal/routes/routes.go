package routes

import (
	"outpatient-backend/internal/handlers"
	"outpatient-backend/internal/metrics"
	"outpatient-backend/internal/middleware"
	"outpatient-backend/internal/models"
	"outpatient-backend/internal/realtime"

	"github.com/gin-gonic/gin"
)

// Deps are the collaborators the router wires together.
type Deps struct {
	Handler     *handlers.Handler
	Auth        middleware.Authenticator
	WebSocket   *realtime.WebSocketHandler
	RateLimiter *middleware.IPRateLimiter
	CORSOrigins []string
}

func SetupRoutes(r *gin.Engine, d Deps) {
	h := d.Handler

	r.Use(middleware.RequestLogger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(d.CORSOrigins))

	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	if d.WebSocket != nil {
		r.GET("/ws", d.WebSocket.Connect)
	}

	api := r.Group("/api")
	if d.RateLimiter != nil {
		api.Use(middleware.RateLimitMiddleware(d.RateLimiter))
	}
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", h.Login)
			auth.POST("/forgot-password", h.ForgotPassword)
			auth.POST("/reset-password/:token", h.ResetPassword)
		}

		api.POST("/public/register", h.PublicRegister)

		// Everything below needs a session.
		protected := api.Group("")
		protected.Use(middleware.AuthMiddleware(d.Auth))
		{
			protected.POST("/auth/logout", h.Logout)
			protected.GET("/auth/me", h.GetUserProfile)

			master := protected.Group("/master", middleware.RequireRoles(models.RoleMaster))
			{
				master.GET("/staff", h.GetAllStaff)
				master.POST("/staff", h.CreateStaff)
				master.PUT("/staff/:id", h.UpdateStaff)
				master.DELETE("/staff/:id", h.DeleteStaff)
			}

			op := protected.Group("/op", middleware.RequireRoles(models.RoleOP))
			{
				op.GET("/patient-details/:opNumber", h.GetPatientDetails)
				op.POST("/register", h.RegisterPatient)
				op.POST("/create-visit", h.CreateVisit)
				op.GET("/pending-approvals", h.GetPendingApprovals)
				op.GET("/pending-patient/:aadhar", h.GetPendingPatient)
				op.POST("/approve-patient/:aadhar", h.ApprovePatient)
			}

			doctor := protected.Group("/doctor", middleware.RequireRoles(models.RoleDoctor))
			{
				doctor.GET("/registered-ops", h.GetDoctorQueue)
				doctor.GET("/patient-history/:patientId", h.GetPatientHistory)
				doctor.POST("/complete-consultation/:visitId", h.CompleteConsultation)
				doctor.PUT("/update-diagnosis/:visitId", h.UpdateDiagnosis)
				doctor.POST("/add-medicines/:visitId", h.AddMedicines)
				doctor.POST("/post-lab-review/:visitId", h.PostLabReview)
			}

			pharmacy := protected.Group("/pharmacy", middleware.RequireRoles(models.RolePharmacy))
			{
				pharmacy.GET("/queue", h.GetPharmacyQueue)
				pharmacy.POST("/issue-medicines/:visitId", h.IssueMedicines)
			}

			lab := protected.Group("/lab", middleware.RequireRoles(models.RoleLab))
			{
				lab.GET("/queue", h.GetLabQueue)
				lab.POST("/upload-report/:orderedLabTestId", h.UploadReport)
			}

			office := protected.Group("/office")
			{
				// Doctors prescribe from the catalogues, pharmacy checks stock.
				office.GET("/medicines", middleware.RequireRoles(models.RoleOffice, models.RolePharmacy, models.RoleDoctor), h.GetMedicines)
				office.GET("/lab-tests", middleware.RequireRoles(models.RoleOffice, models.RoleDoctor), h.GetLabTests)

				staff := office.Group("", middleware.RequireRoles(models.RoleOffice))
				staff.POST("/add-medicine", h.AddMedicine)
				staff.POST("/add-lab-test", h.AddLabTest)
				staff.GET("/reports/daily-visits", h.DailyVisits)
				staff.GET("/reports/daily-medicines", h.DailyMedicines)
				staff.GET("/reports/daily-lab-tests", h.DailyLabTests)
			}
		}
	}
}
