// Package repository define las interfaces de repositorio de dominio.
//
// Estas interfaces representan contratos de negocio, independientes del
// almacenamiento subyacente (PostgreSQL, memoria, etc.).
//
// Las implementaciones concretas viven en internal/store/.
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - OrgID se pasa explícitamente en métodos que lo requieren
//   - Errores de dominio están en errors.go
//   - Los updates condicionales (last-activity, renewals, backup codes)
//     son atómicos a nivel de store: el repositorio es la fuente de verdad,
//     nunca un mapa en memoria del proceso.
package repository
