/*
Package render turns the opaque compose/env/volume templates into a
per-instance artifact tree by ${NAME} substitution.

Outputs, relative to the data root:

	docker-compose-{id}.yml
	.env-{id}
	volumes-{id}/{db,functions,logs,api,pooler,storage}/

A missing template is TemplateMissing, a reference to an undefined
variable is UnresolvedVariable, and any filesystem failure is RenderIO.
*/
package render
