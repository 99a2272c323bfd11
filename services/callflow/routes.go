// Copyright (C) 2025 Coastline AI (engineering@coastlineai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callflow

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all Callflow routes with the router.
//
// Description:
//
//	Registers all /v1/callflow/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/callflow/route - Route one classified call turn
//	POST /v1/callflow/contract/compile - Compile a slot contract
//	POST /v1/callflow/contract/booking-fields - Compile + legacy transform
//	GET  /v1/callflow/triggers/:tenantID - Resolved merged rule set
//	POST /v1/callflow/phone/step - Advance a phone capture context
//	POST /v1/callflow/cache/invalidate - Tenant/group/full cache invalidation
//	GET  /v1/callflow/health - Health check
//	GET  /v1/callflow/ready - Readiness check
//
// Example:
//
//	service, _ := callflow.NewService(ctx, callflow.ServiceConfig{Store: store})
//	handlers := callflow.NewHandlers(service)
//
//	v1 := router.Group("/v1")
//	callflow.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	cf := rg.Group("/callflow")
	{
		cf.POST("/route", handlers.HandleRouteTurn)

		cf.POST("/contract/compile", handlers.HandleCompileContract)
		cf.POST("/contract/booking-fields", handlers.HandleBookingFields)

		cf.GET("/triggers/:tenantID", handlers.HandleTenantRules)
		cf.POST("/cache/invalidate", handlers.HandleInvalidateCache)

		cf.POST("/phone/step", handlers.HandlePhoneStep)

		cf.GET("/health", handlers.HandleHealth)
		cf.GET("/ready", handlers.HandleReady)
	}
}
